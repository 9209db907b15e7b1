// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"strings"
)

// FormatReply formats a reply into a human-readable string. When cmd is the
// command the reply answers, the value is decoded with its type; otherwise
// both interpretations are shown.
func FormatReply(r *Reply, cmd *Command) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s len=%d %q\n", timestamp, r.Kind, len(r.Frame), r.Frame)

	switch r.Kind {
	case ReplyAck:
		if cmd != nil {
			result += fmt.Sprintf("  Acknowledges: %s\n", cmd)
		}

	case ReplyDeviceError:
		result += fmt.Sprintf("  Error code: 0x%02X (%s)\n", uint8(r.ErrorCode), r.ErrorCode)
		if cmd != nil {
			result += fmt.Sprintf("  Pending: %s\n", cmd)
		}

	case ReplyValue:
		if cmd != nil {
			v, err := r.Value(cmd.Parameter.Type)
			if err != nil {
				result += fmt.Sprintf("  Value: <%v>\n", err)
				break
			}
			result += fmt.Sprintf("  %s[%d] = %s\n", cmd.Parameter.Name, cmd.Instance, formatValue(cmd.Parameter, v))
			break
		}
		result += formatRawValue(r.ValueField)

	default:
		result += fmt.Sprintf("  Raw: % X\n", []byte(r.Frame))
	}

	return result
}

// FormatCommand formats an outgoing command and its frame
func FormatCommand(c Command, frame string) string {
	return fmt.Sprintf("  -> %s %q\n", c, frame)
}

// FormatState renders a multi-line state summary
func FormatState(s DeviceState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance:      %d\n", s.Instance)
	fmt.Fprintf(&b, "Status:        %s\n", s.Status)
	fmt.Fprintf(&b, "Output:        %s\n", formatEnabled(s.Enabled))
	fmt.Fprintf(&b, "Target temp:   %.2f°C\n", s.TargetTemp)
	fmt.Fprintf(&b, "Object temp:   %.2f°C\n", s.ObjectTemp)
	fmt.Fprintf(&b, "Sink temp:     %.2f°C\n", s.SinkTemp)
	if s.AutoResetDelay != 0 {
		fmt.Fprintf(&b, "Auto reset:    %d\n", s.AutoResetDelay)
	}
	if s.Error {
		if s.LastErrorCode != 0 {
			fmt.Fprintf(&b, "Error:         yes (0x%02X %s)\n", uint8(s.LastErrorCode), s.LastErrorCode)
		} else {
			b.WriteString("Error:         yes\n")
		}
	} else {
		b.WriteString("Error:         no\n")
	}
	return b.String()
}

func formatValue(d ParameterDescriptor, v Value) string {
	switch d.Name {
	case ParamStatus:
		st, err := StatusFromInt(v.Int())
		if err != nil {
			return fmt.Sprintf("%d (UNKNOWN)", v.Int())
		}
		return fmt.Sprintf("%d (%s)", v.Int(), st)
	case ParamOutput:
		return fmt.Sprintf("%d (%s)", v.Int(), formatEnabled(v.Int() != 0))
	case ParamObjectTemp, ParamSinkTemp, ParamTargetTemp:
		return fmt.Sprintf("%.3f°C", v.Float())
	}
	return v.String()
}

func formatRawValue(field string) string {
	i, errI := ParseValueField(field, Int32)
	f, errF := ParseValueField(field, Float32)
	if errI != nil || errF != nil {
		return fmt.Sprintf("  Value field: %q (invalid)\n", field)
	}
	return fmt.Sprintf("  Value field: %s  int32=%d  float32=%g\n", field, i.Int(), f.Float())
}

func formatEnabled(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
