package xrail

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Control verbs accepted on the control channel.
const (
	VerbAddAllowedIP         = "ADD_ALLOWED_IP"
	VerbRemoveAllowedIP      = "REMOVE_ALLOWED_IP"
	VerbSetAllowedIPList     = "SET_ALLOWED_IP_LIST"
	VerbGetAllowedIPList     = "GET_ALLOWED_IP_LIST"
	VerbReset                = "RESET"
	VerbShutdown             = "SHUTDOWN"
	VerbHardwareShutdown     = "HARDWARE_SHUTDOWN"
	VerbHardwareReset        = "HARDWARE_RESET"
	VerbEmergencyStop        = "EMERGENCY_STOP"
	VerbEmergencyStopRelease = "EMERGENCY_STOP_RELEASE"
)

type argMode int

const (
	argsNone argMode = iota
	argsOneIP
	argsIPList
)

type verbSpec struct {
	kind Kind
	args argMode
	// payload builds the message payload from the parsed arguments.
	payload func(args []string) any
}

var verbs = map[string]verbSpec{
	VerbAddAllowedIP:     {kind: KindServerAddAllowedIP, args: argsOneIP, payload: firstArg},
	VerbRemoveAllowedIP:  {kind: KindServerRemoveAllowedIP, args: argsOneIP, payload: firstArg},
	VerbSetAllowedIPList: {kind: KindServerSetAllowedIPList, args: argsIPList, payload: allArgs},
	VerbGetAllowedIPList: {kind: KindServerGetAllowedIPList},
	VerbReset:            {kind: KindInternalReset},
	VerbShutdown:         {kind: KindInternalShutdown},
	VerbHardwareShutdown: {kind: KindSystemHardwareShutdown},
	VerbHardwareReset:    {kind: KindSystemHardwareReset},
	VerbEmergencyStop: {kind: KindSystemSetEmergencyStop, payload: func([]string) any {
		return Toggle{Active: true}
	}},
	VerbEmergencyStopRelease: {kind: KindSystemSetEmergencyStop, payload: func([]string) any {
		return Toggle{Active: false}
	}},
}

// Toggle is the payload of on/off requests such as emergency stop.
type Toggle struct {
	Active bool `json:"active"`
}

func firstArg(args []string) any { return args[0] }
func allArgs(args []string) any  { return args }

// Command is one parsed control-channel line.
type Command struct {
	Verb    string
	Args    []string
	Kind    Kind
	Payload any
}

// ParseCommand parses "VERB" or "VERB:arg1;arg2". Unknown verbs yield
// ErrUnknownVerb; bad arguments yield ErrInvalidArgument.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	verb, rest, hasArgs := strings.Cut(line, ":")
	verb = strings.ToUpper(strings.TrimSpace(verb))

	spec, ok := verbs[verb]
	if !ok {
		return Command{Verb: verb}, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	var args []string
	if hasArgs {
		for _, a := range strings.Split(rest, ";") {
			if a = strings.TrimSpace(a); a != "" {
				args = append(args, a)
			}
		}
	}

	switch spec.args {
	case argsNone:
		if len(args) > 0 {
			return Command{Verb: verb}, fmt.Errorf("%w: %s takes no arguments", ErrInvalidArgument, verb)
		}
	case argsOneIP:
		if len(args) != 1 {
			return Command{Verb: verb}, fmt.Errorf("%w: %s takes exactly one address", ErrInvalidArgument, verb)
		}
	}
	if spec.args != argsNone {
		for _, a := range args {
			if net.ParseIP(a) == nil {
				return Command{Verb: verb}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidArgument, a)
			}
		}
	}

	cmd := Command{Verb: verb, Args: args, Kind: spec.kind}
	if spec.payload != nil {
		if args == nil && spec.args == argsIPList {
			args = []string{}
		}
		cmd.Payload = spec.payload(args)
	}
	return cmd, nil
}

// Verbs returns the accepted verbs, sorted.
func Verbs() []string {
	out := make([]string, 0, len(verbs))
	for v := range verbs {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SuggestVerb returns the known verb closest to v, or "" if none is close.
func SuggestVerb(v string) string {
	best, bestDist := "", -1
	for _, known := range Verbs() {
		d := levenshtein.ComputeDistance(v, known)
		if bestDist < 0 || d < bestDist {
			best, bestDist = known, d
		}
	}
	if bestDist < 0 || bestDist > len(v)/2+1 {
		return ""
	}
	return best
}
