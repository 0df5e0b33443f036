package bmlipc

import "fmt"

// Command is the leading int of every request message.
type Command int32

// Command ids. Quit must stay 0; the rest follow the order of the plugin API.
const (
	CommandQuit Command = iota
	CommandSetMasterInfo
	CommandOpen
	CommandClose
	CommandGetMachineInfo
	CommandGetGlobalParameterInfo
	CommandGetTrackParameterInfo
	CommandGetAttributeInfo
	CommandDescribeGlobalValue
	CommandDescribeTrackValue
	CommandNew
	CommandFree
	CommandInit
	CommandGetTrackParameterValue
	CommandSetTrackParameterValue
	CommandGetGlobalParameterValue
	CommandSetGlobalParameterValue
	CommandGetAttributeValue
	CommandSetAttributeValue
	CommandTick
	CommandWork
	CommandWorkM2S
	CommandStop
	CommandAttributesChanged
	CommandSetNumTracks

	commandCount
)

var commandNames = [commandCount]string{
	CommandQuit:                    "QUIT",
	CommandSetMasterInfo:           "SET_MASTER_INFO",
	CommandOpen:                    "OPEN",
	CommandClose:                   "CLOSE",
	CommandGetMachineInfo:          "GET_MACHINE_INFO",
	CommandGetGlobalParameterInfo:  "GET_GLOBAL_PARAMETER_INFO",
	CommandGetTrackParameterInfo:   "GET_TRACK_PARAMETER_INFO",
	CommandGetAttributeInfo:        "GET_ATTRIBUTE_INFO",
	CommandDescribeGlobalValue:     "DESCRIBE_GLOBAL_VALUE",
	CommandDescribeTrackValue:      "DESCRIBE_TRACK_VALUE",
	CommandNew:                     "NEW",
	CommandFree:                    "FREE",
	CommandInit:                    "INIT",
	CommandGetTrackParameterValue:  "GET_TRACK_PARAMETER_VALUE",
	CommandSetTrackParameterValue:  "SET_TRACK_PARAMETER_VALUE",
	CommandGetGlobalParameterValue: "GET_GLOBAL_PARAMETER_VALUE",
	CommandSetGlobalParameterValue: "SET_GLOBAL_PARAMETER_VALUE",
	CommandGetAttributeValue:       "GET_ATTRIBUTE_VALUE",
	CommandSetAttributeValue:       "SET_ATTRIBUTE_VALUE",
	CommandTick:                    "TICK",
	CommandWork:                    "WORK",
	CommandWorkM2S:                 "WORK_M2S",
	CommandStop:                    "STOP",
	CommandAttributesChanged:       "ATTRIBUTES_CHANGED",
	CommandSetNumTracks:            "SET_NUM_TRACKS",
}

// Valid reports whether c is a known command id.
func (c Command) Valid() bool {
	return c >= 0 && c < commandCount
}

// String returns the command name
func (c Command) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return fmt.Sprintf("COMMAND(%d)", int32(c))
}

// Commands returns every known command id in wire order.
func Commands() []Command {
	out := make([]Command, 0, commandCount)
	for c := Command(0); c < commandCount; c++ {
		out = append(out, c)
	}
	return out
}
