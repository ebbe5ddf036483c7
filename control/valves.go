package control

import "strconv"

// Valve bit assignments on the single :dout0 output byte, grounded on
// hmc_master.py's set_valve/set_valves bit table.
const (
	BitPump     = 0x01 // purge air pump
	BitCooling1 = 0x02 // cooling fan 1
	BitCooling2 = 0x04 // cooling fan 2
	BitStill    = 0x08 // still-air valve
	BitPurge    = 0x10 // purge valve
	BitIntake   = 0x20 // intake valve
	BitSensors  = 0x40 // sensors valve
	BitSyringe  = 0x80 // syringe valve
)

// Valve configurations named for the procedures that use them, grounded
// on the set_valves(0x..) call sites in hmc_master.py.
const (
	valvesBoot         = BitPump | BitCooling1 | BitCooling2 // 0x07: fans + pump running, all flow valves closed
	valvesExamReady    = BitSensors | valvesBoot             // 0x47: sensors on, for EXAM_START
	valvesStillOn      = BitStill | valvesBoot               // 0x0F: STILL valve open during EXAM_PUSHING
	valvesWashFillEmpty = BitSyringe | BitIntake | valvesBoot // 0xA7: syringe to intake, intake closed, purge open
	valvesFillAllOpen  = BitSyringe | valvesBoot             // 0x87: syringe switched to intake
	valvesSensorsOnly  = valvesBoot                          // 0x07: syringe switched to sensors
	valvesBreathIntake = BitSyringe | valvesBoot             // 0x87: switch syringe to intake
)

// SetValves writes the full 8-bit valve/fan state in one command, per
// spec §4.6 ("a single byte via :dout0:write <n>").
func (c *Controller) SetValves(value int) error {
	return c.cmd.Command(":dout0:write " + strconv.Itoa(value))
}
