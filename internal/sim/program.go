package sim

import (
	"strconv"
	"strings"
)

// parsedProgram is what the simulator understands of one script line.
type parsedProgram struct {
	motion bool
	stop   bool
	joints []float64
	pose   []float64

	digitalOut int
	outValue   bool
	setsOutput bool
}

// parseLine recognises the commands the encoder emits. Anything else is
// accepted and ignored, like the controller does for auxiliary programs.
func parseLine(line string) parsedProgram {
	line = strings.TrimSpace(line)
	var p parsedProgram

	switch {
	case strings.HasPrefix(line, "movej("):
		p.motion = true
		p.joints = firstList(line)
	case strings.HasPrefix(line, "movel("), strings.HasPrefix(line, "movep("):
		p.motion = true
		p.pose = firstList(line)
	case strings.HasPrefix(line, "movec("):
		p.motion = true
		// target is the second pose
		if i := strings.Index(line, "], p["); i >= 0 {
			p.pose = firstList(line[i+2:])
		}
	case strings.HasPrefix(line, "def "), strings.HasPrefix(line, "speedj("), strings.HasPrefix(line, "speedl("):
		p.motion = true
	case strings.HasPrefix(line, "stopj("), strings.HasPrefix(line, "stopl("):
		p.stop = true
	case strings.HasPrefix(line, "set_digital_out("):
		args := strings.TrimSuffix(strings.TrimPrefix(line, "set_digital_out("), ")")
		n, v, ok := strings.Cut(args, ",")
		if !ok {
			return p
		}
		idx, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return p
		}
		p.setsOutput = true
		p.digitalOut = idx
		p.outValue = strings.TrimSpace(v) == "True"
	}
	return p
}

// firstList parses the first bracketed float list in s.
func firstList(s string) []float64 {
	start := strings.Index(s, "[")
	end := strings.Index(s, "]")
	if start < 0 || end < start {
		return nil
	}
	parts := strings.Split(s[start+1:end], ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
