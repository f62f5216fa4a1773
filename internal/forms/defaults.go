package forms

// DefaultSchema returns the stock Apollo CM test sequence. It is written to
// the config file on first start and restored by the admin reset action.
func DefaultSchema() *Schema {
	serial := Integer("CM_serial", "CM Serial Number")
	serial.Validator = SerialValidatorName

	managementPower := Float("management_power", "3.3V Management Power Measurement")
	managementPower.HelpLabel = "Power Up Test Instructions"
	managementPower.HelpText = "Unpack a board. Set FireFly transmit switches to 3.8V position. Install one 4-channel " +
		"FireFly transceiver on each FPGA, and connect a fiber cable between them. Install copper FireFly loopback " +
		"cables to other FireFly sites. Connect the board to the test system. Position fans for cooling. Connect a " +
		"meter to measure 3.3V management power. Ramp the 12V power and note the voltage level when the 3.3V becomes " +
		"good. Note the current as the voltage is ramped up to 12V. Stop the test if certain voltage or current " +
		"criteria are not met. Program the MCU with first-step code and run the program."

	clock1 := Float("fpga_oscillator_clock_1", "FPGA Oscillator Clock Frequency 1 (MHz)")
	clock1.HelpTarget = "clock_freq_help"
	clock2 := Float("fpga_oscillator_clock_2", "FPGA Oscillator Clock Frequency 2 (MHz)")
	clock2.HelpTarget = "clock_freq_help"

	clockHelp := FormField{
		Name:      "clock_freq_help",
		Kind:      KindNote,
		HelpLabel: "FPGA Clock Frequency Checks",
		HelpText: "Load second-step MCU code, which automatically turns on power and monitors conditions. Configure " +
			"the clock chips for refclk testing. Load first-step FPGA code, which tests refclk inputs and I2C. Verify " +
			"that oscillator clock is 200 MHz on each FPGA (sent out through front panel connector).",
	}

	flashMemory := Boolean("fpga_flash_memory", "FPGA Flash Memory Test")
	flashMemory.HelpLabel = "Flash Memory Test"
	flashMemory.HelpText = "Test optics I2C registers related to 3.3V/3.8V options. Test non-sysmon I2C to each FPGA. " +
		"Verify that all refclks have the expected frequency (read over I2C). Switch clock chips between different " +
		"inputs. Test FPGA flash memory."

	i2cDCDC := Boolean("i2c_to_dcdc", "I2C to DC-DC Converter Passed")
	i2cDCDC.HelpLabel = "I2C to DC-DC Converter Test"
	i2cDCDC.HelpLink = "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L40"
	i2cDCDC.HelpText = "Test I2C to each DC-DC converter (schematic 4.02). Verify that both reading and writing work " +
		"as all 7 converters are uniquely accessed. Detect if I2C switching fails and the same converter answers " +
		"multiple times. Verify that the I2C_RESET_PWR signal to the I2C mux works. Report errors as encountered. " +
		"Report success after communicating with all seven DC-DC converters."

	dcdcConverters := Boolean("dcdc_converter_test", "All DC-DC Converters Passed")
	dcdcConverters.HelpLabel = "DCDC Converter Tests"
	dcdcConverters.HelpLink = "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L41"
	dcdcConverters.HelpText = "Configure, enable, and check each DC-DC converter one at a time, following the " +
		"power-on sequence of schematic 1.04. Check voltages and currents by reading internal DC-DC converter " +
		"registers and the MCU ADC. Report errors as encountered, and success after enabling all seven converters."

	i2cClocks := Boolean("i2c_clockchips", "Clock Chips I2C Test Passed")
	i2cClocks.HelpLabel = "I2C Clock Tests"
	i2cClocks.HelpLink = "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L42"
	i2cClocks.HelpText = "Test I2C to clock chips and I2C registers (schematic 4.03). Verify that both reading and " +
		"writing work as all 5 clock chips are uniquely accessed, and that both register chips respond. Verify that " +
		"the I2C_RESET_CLOCKS signal to the I2C mux works. Report errors as encountered."

	i2cFPGAs := Boolean("i2c_to_fpgas", "I2C to FPGA's Passed")
	i2cFPGAs.HelpLabel = "I2C to FPGA Test"
	i2cFPGAs.HelpLink = "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L45"
	i2cFPGAs.HelpText = "Test I2C to FPGAs (schematic 4.04). Requires a board with FPGAs installed; only the SYSMON " +
		"ports can be tested before code is loaded. Verify that both reading and writing work as each FPGA is " +
		"uniquely accessed. Verify that the I2C_RESET_FPGAS signal to the I2C mux works."

	fireflyHelp := FormField{
		Name:      "i2c_to_fireflies",
		Kind:      KindNote,
		HelpLabel: "I2C Firefly Test",
		HelpLink:  "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L43",
		HelpText: "Test I2C to each FireFly bank (schematic 4.05 and 4.06). Complete coverage requires at least 4 " +
			"FireFlys installed in each bank, two on each I2C MUX. Verify that both reading and writing work as " +
			"different FireFly devices are uniquely accessed, and that the I2C_RESET_F1_OPTICS and " +
			"I2C_RESET_F2_OPTICS signals to the I2C muxes work.",
	}

	fireflyBank1 := Boolean("i2c_to_firefly_bank1", "I2C to FireFly Bank 1 Passed")
	fireflyBank1.HelpTarget = "i2c_to_fireflies"
	fireflyBank2 := Boolean("i2c_to_firefly_bank2", "I2C to FireFly Bank 2 Passed")
	fireflyBank2.HelpTarget = "i2c_to_fireflies"

	i2cEEPROM := Boolean("i2c_to_eeprom", "I2C to EEPROM Passed")
	i2cEEPROM.HelpLabel = "I2C to EEPROM Test"
	i2cEEPROM.HelpLink = "https://github.com/apollo-lhc/cm_mcu/blob/master/projects/prod_test/CommandLineTask.c#L44"
	i2cEEPROM.HelpText = "Test I2C to EEPROM (schematic 4.01). Verify that the EEPROM holding the board serial " +
		"number and the synthesizer configuration files can be programmed and read, and that the write-protect " +
		"signal works."

	return &Schema{Pages: []FormPage{
		{
			Name:   "serial_request",
			Label:  "Serial Number",
			Fields: []FormField{serial},
		},
		{
			Name:  "hardware_test",
			Label: "Hardware Test",
			Fields: []FormField{
				Boolean("passed_visual", "Passed Visual Inspection"),
				Text("comments", "Comments"),
			},
		},
		{
			Name:  "power_test",
			Label: "Power Up Test",
			Fields: []FormField{
				Spacer(),
				Note("powertesttext", "Voltages should be around 11.5 - 12.5 V, Currents 0.5 - 2.0 A"),
				Spacer(),
				managementPower,
				Float("power_supply_voltage", "Power Supply Voltage (V) when 3.3 V becomes good"),
				Float("current_draw", "Current Draw (mA) at 3.3 V"),
				Boolean("mcu_programmed", "MCU Programmed Successfully"),
			},
		},
		{
			Name:  "second_step_mcu_test",
			Label: "Second-Step MCU Test",
			Fields: []FormField{
				Note("second_step_instruction", "Set FireFly transmit switches to the 3.3v position and load second step code, (clock output sent through front panel connector)"),
				clock1,
				clockHelp,
				clock2,
				flashMemory,
			},
		},
		{
			Name:  "link_test",
			Label: "Link Integrity Testing",
			Fields: []FormField{
				Note("fpga_second_step_tip", "Load the second-step FPGA code to test FPGA-FPGA and MCU-FPGA connections"),
				Boolean("ibert_test", "IBERT link Test Passed"),
				File("ibert_test_upload", "Upload IBERT Test Results"),
				Boolean("full_link_test", "Firefly, FPGA-FPGA, C2C, and TCDS Links Passed"),
				File("firefly_test_upload", "Upload Firefly Test Results"),
			},
		},
		{
			Name:  "manual_link_testing",
			Label: "Manual Link Testing",
			Fields: []FormField{
				Note("manual_test_tip_1", "Remove the board from the test stand. Remove the FireFly devices and loopback cables. Install the proper FireFly configuration for the end use."),
				Spacer(),
				Note("manual_test_tip_2", "Set the FireFly transmit voltage switches to 3.8v for 25Gx12 transmitters. Install the FireFly heatsink. Route FireFly cables to the front panel. Install loopback connectors"),
				Spacer(),
				Note("manual_test_tip_3", "Connect the CM to the golden SM. Install the SM front panel board. Attach a front panel, and connect the handle switch. Install covers. Install the board in an ATCA shelf and apply power."),
				Spacer(),
				Note("manual_test_tip_4", "Load MCU code and configure clock chips for normal operation, then load the third step FPGA code"),
				Spacer(),
				Boolean("third_step_fpga_test", "Third Step FPGA Test Passed"),
			},
		},
		{
			Name:  "heating_tests",
			Label: "Heating Testing",
			Fields: []FormField{
				Boolean("heating_test", "Heater Tests Passed With Sufficient Cooling"),
				Note("heating_tip", "Remove the CM/SM from the ATCA shelf. Remove the FireFly loopback connectors. Separate the CM from the SM. Pack the CM for shipping"),
				Spacer(),
				Spacer(),
			},
		},
		{
			Name:  "report_upload",
			Label: "Upload Test Report",
			Fields: []FormField{
				File("test_report", "Upload PDF"),
			},
		},
		{
			Name:  "i2c_tests",
			Label: "I2C Tests",
			Fields: []FormField{
				i2cDCDC,
				dcdcConverters,
				Float("dcdc_voltage", "DC-DC Measured Voltage"),
				Float("dcdc_current", "DC-DC Measured Current"),
				i2cClocks,
				i2cFPGAs,
				fireflyHelp,
				fireflyBank1,
				fireflyBank2,
				i2cEEPROM,
			},
		},
	}}
}
