// Package filter provides display filter functionality using expr-lang/expr
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/lteinsight/emmkpi/nas"
)

// MessageEnv is the environment for expression evaluation
// It maps Wireshark-like field names to decoded message data
type MessageEnv struct {
	// Frame fields
	Frame struct {
		Number    int     `expr:"number"`
		TimeEpoch float64 `expr:"time_epoch"`
	} `expr:"frame"`

	// EMM fields
	EMM struct {
		Type      int    `expr:"type"`
		TypeName  string `expr:"type_name"`
		Cause     int    `expr:"cause"`
		CauseName string `expr:"cause_name"`
		Uplink    bool   `expr:"uplink"`
		Downlink  bool   `expr:"downlink"`
	} `expr:"emm"`

	// RRC fields
	RRC struct {
		ReestablishmentCause string `expr:"reestablishment_cause"`
	} `expr:"rrc"`

	// Information elements by decoder field name
	IE map[string]string `expr:"ie"`

	// Layer flags (for simple layer filtering like "emm", "rrc")
	IsEMM bool `expr:"is_emm"`
	IsRRC bool `expr:"is_rrc"`
}

// Compile compiles a display filter expression
func Compile(filterStr string) (func(*nas.Message) bool, error) {
	// Preprocess the filter to handle Wireshark-style syntax
	processed := preprocessFilter(filterStr)

	// Compile the expression
	program, err := expr.Compile(processed, expr.Env(MessageEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}

	// Return a function that evaluates the filter
	return func(msg *nas.Message) bool {
		env := messageToEnv(msg)
		result, err := expr.Run(program, env)
		if err != nil {
			return false
		}
		if b, ok := result.(bool); ok {
			return b
		}
		return false
	}, nil
}

// preprocessFilter converts Wireshark-style filter syntax to expr syntax
func preprocessFilter(filter string) string {
	// Convert standalone "emm", "rrc" to is_emm, is_rrc
	layerMap := map[string]string{
		"emm": "is_emm",
		"nas": "is_emm",
		"rrc": "is_rrc",
	}

	// Replace standalone layer names (not part of field names like emm.type)
	words := tokenizeFilter(filter)
	for i, word := range words {
		lowerWord := strings.ToLower(word)
		if replacement, ok := layerMap[lowerWord]; ok {
			// Check if this is a standalone layer name (not followed by .)
			if i+1 >= len(words) || words[i+1] != "." {
				// Check if previous word is not a .
				if i == 0 || words[i-1] != "." {
					words[i] = replacement
				}
			}
		}
	}
	filter = strings.Join(words, "")

	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	return filter
}

// tokenizeFilter breaks a filter string into tokens while preserving structure
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder

	for _, ch := range filter {
		switch ch {
		case ' ', '\t', '\n':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(ch))
		case '.', '(', ')', '[', ']', '{', '}', ',', '!':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(ch))
		case '=', '>', '<', '&', '|':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			current.WriteRune(ch)
		default:
			// Check if current is an operator and we're starting a new token
			if current.Len() > 0 {
				s := current.String()
				if s == "==" || s == "!=" || s == ">=" || s == "<=" || s == ">" || s == "<" ||
					s == "&&" || s == "||" || s == "=" {
					tokens = append(tokens, s)
					current.Reset()
				}
			}
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// messageToEnv converts a Message to a MessageEnv for expression evaluation
func messageToEnv(msg *nas.Message) MessageEnv {
	env := MessageEnv{}

	// Frame fields
	env.Frame.Number = msg.Index
	env.Frame.TimeEpoch = float64(msg.Timestamp.UnixNano()) / 1e9

	env.IE = msg.IEs
	if env.IE == nil {
		env.IE = map[string]string{}
	}

	switch msg.Layer {
	case nas.LayerNASEMM:
		env.IsEMM = true
		env.EMM.Type = int(msg.Type)
		env.EMM.TypeName = msg.Type.String()
		env.EMM.Uplink = msg.Direction == nas.Uplink
		env.EMM.Downlink = msg.Direction == nas.Downlink
		if cause, ok := msg.EMMCause(); ok {
			env.EMM.Cause = int(cause)
			env.EMM.CauseName = cause.String()
		}

	case nas.LayerRRC:
		env.IsRRC = true
		env.RRC.ReestablishmentCause = msg.ReestablishmentCause()
	}

	return env
}
