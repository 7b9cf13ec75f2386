package protocol

// Route validates a raw inbound notification buffer and dispatches it to the
// matching payload parser. It returns nil for malformed data (corrupted or
// partial notifications are expected background noise on BLE) and an Unknown
// event for well-formed frames that don't map to a known response.
func Route(data []byte) Event {
	if !ValidatePacket(data) {
		return nil
	}

	function, command, payload := ExtractPayload(data)

	switch function {
	case FuncDetection:
		if ev := routeDetection(command, payload); ev != nil {
			return ev
		}
	case FuncDeviceInfo:
		if ev := routeDeviceInfo(command, payload); ev != nil {
			return ev
		}
	}

	return Unknown{Function: function, Command: command, Payload: payload}
}

func routeDetection(command byte, payload []byte) Event {
	switch command {
	case CmdStartMeasurement:
		if len(payload) < lenStartAck {
			return nil
		}
		switch payload[0] {
		case StatusStarted:
			return MeasurementStarted{}
		case StatusBusy:
			return MeasurementBusy{}
		default:
			return MeasurementFailed{Status: payload[0]}
		}
	case CmdBeanType:
		if len(payload) < lenBeanType {
			return nil
		}
		return BeanType{ParseBeanType(payload)}
	case CmdMoistureDensity:
		if len(payload) < lenMoistureDensity {
			return nil
		}
		return MoistureDensity{ParseMoistureDensity(payload)}
	case CmdWaterActivity:
		if len(payload) < lenWaterActivity {
			return nil
		}
		return WaterActivity{ParseWaterActivity(payload)}
	case CmdAgtron:
		if len(payload) < lenAgtron {
			return nil
		}
		return Agtron{ParseAgtron(payload)}
	case CmdEnvironment:
		if len(payload) < lenEnvironment {
			return nil
		}
		return Environment{ParseEnvironment(payload)}
	case CmdWaterActivityStart:
		if len(payload) < lenWaterActivityStart {
			return nil
		}
		return WaterActivityStart{Mode: payload[0]}
	}

	return nil
}

func routeDeviceInfo(command byte, payload []byte) Event {
	switch command {
	case CmdSerialNumber:
		return SerialNumber{Serial: ParseString(payload)}
	case CmdFirmwareVersion:
		return FirmwareVersion{Version: ParseString(payload)}
	case CmdModel:
		return Model{Model: ParseString(payload)}
	case CmdBattery:
		if len(payload) < lenBattery {
			return nil
		}
		device, base := ParseBattery(payload)
		return Battery{Device: device, Base: base}
	}

	return nil
}
