// Package governance submits and passes proposals on the protocol's
// governance contract from a set of impersonated advisory board members.
package governance

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Code is a two-byte contract code such as "GV" or "P1".
type Code [2]byte

// ParseCode converts a two-character string into a Code.
func ParseCode(s string) (Code, error) {
	var c Code
	if len(s) != 2 {
		return c, errors.Errorf("governance: contract code %q must be 2 bytes", s)
	}
	copy(c[:], s)
	return c, nil
}

// MustCode is ParseCode for constants. It panics on bad input.
func MustCode(s string) Code {
	c, err := ParseCode(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Code) String() string { return string(c[:]) }

// UnmarshalYAML reads a code written as a plain string.
func (c *Code) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseCode(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML writes the code as a plain string.
func (c Code) MarshalYAML() (interface{}, error) { return c.String(), nil }

// Contract codes touched by the migration.
var (
	CodeMaster          = MustCode("MS")
	CodeGovernance      = MustCode("GV")
	CodeClaimsReward    = MustCode("CR")
	CodeTokenController = MustCode("TC")
	CodeCover           = MustCode("CO")
	CodePool            = MustCode("P1")
	CodePooledStaking   = MustCode("PS")
	CodeClaimsData      = MustCode("CD")
	CodeIncidents       = MustCode("IC")
	CodeClaims          = MustCode("CL")
	CodeQuotationData   = MustCode("QD")
	CodeQuotation       = MustCode("QT")
	CodeTokenFunctions  = MustCode("TF")
)
