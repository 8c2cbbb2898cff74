package script

import (
	"fmt"

	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
)

// SetTCP sets the flange to tool transform.
func SetTCP(offset transform.Pose) (string, error) {
	if err := checkPose("tcp", offset); err != nil {
		return "", err
	}
	return fmt.Sprintf("set_tcp(%s)", formatPose(offset.Vector())), nil
}

// SetPayload sets the payload mass in kg. A nil centre of gravity leaves the
// controller to use the tool centre point.
func SetPayload(mass float64, cog *[3]float64) (string, error) {
	if err := checkNonNegative("mass", mass); err != nil {
		return "", err
	}
	if cog == nil {
		return fmt.Sprintf("set_payload(%s)", formatFloat(mass)), nil
	}
	if err := checkVector("cog", cog[:], 3); err != nil {
		return "", err
	}
	return fmt.Sprintf("set_payload(%s, %s)", formatFloat(mass), formatList(cog[:])), nil
}

func SetGravity(direction [3]float64) (string, error) {
	if err := checkVector("gravity", direction[:], 3); err != nil {
		return "", err
	}
	return fmt.Sprintf("set_gravity(%s)", formatList(direction[:])), nil
}

// Standard controller I/O ranges.
const (
	DigitalOutputs = 10
	AnalogOutputs  = 2
)

func SetDigitalOut(n int, on bool) (string, error) {
	if n < 0 || n >= DigitalOutputs {
		return "", types.Invalid("output", "digital output %d out of range [0, %d)", n, DigitalOutputs)
	}
	val := "False"
	if on {
		val = "True"
	}
	return fmt.Sprintf("set_digital_out(%d, %s)", n, val), nil
}

func SetAnalogOut(n int, v float64) (string, error) {
	if n < 0 || n >= AnalogOutputs {
		return "", types.Invalid("output", "analog output %d out of range [0, %d)", n, AnalogOutputs)
	}
	if !finite(v) || v < 0 || v > 1 {
		return "", types.Invalid("value", "analog output value %v outside [0, 1]", v)
	}
	return fmt.Sprintf("set_analog_out(%d, %s)", n, formatFloat(v)), nil
}

// SetToolVoltage accepts 0, 12 or 24 volts.
func SetToolVoltage(v int) (string, error) {
	switch v {
	case 0, 12, 24:
		return fmt.Sprintf("set_tool_voltage(%d)", v), nil
	}
	return "", types.Invalid("voltage", "tool voltage must be 0, 12 or 24, got %d", v)
}

// TextMessage logs msg on the controller's log tab.
func TextMessage(msg string) string {
	return fmt.Sprintf("textmsg(%s)", formatString(msg))
}
