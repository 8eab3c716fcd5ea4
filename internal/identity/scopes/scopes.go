// Package scopes derives the capability set carried by an access token.
//
// Derivation is a pure table lookup: citizens get self-service capabilities and
// officers get the row for their rank. A rank with no row derives nothing.
package scopes

import (
	"slices"

	"govsign/internal/identity/models"
)

// Capabilities shared across the system.
const (
	ReadSelf    = "read:self"
	WriteSelf   = "write:self"
	ProcessSign = "process:sign"
)

// Level is the breadth of the area a capability applies to.
type Level uint8

const (
	LevelNone Level = iota
	LevelSelf
	LevelVillages
	LevelDivisions
	LevelDistricts
	LevelProvinces
	LevelCountry
)

var levelNames = map[Level]string{
	LevelSelf:      "self",
	LevelVillages:  "villages",
	LevelDivisions: "divisions",
	LevelDistricts: "districts",
	LevelProvinces: "provinces",
	LevelCountry:   "country",
}

func (l Level) String() string {
	return levelNames[l]
}

type rank struct {
	level  Level
	scopes []string
}

var citizenScopes = []string{ReadSelf, WriteSelf}

// rankTable is indexed by OfficerType. The two array-size assertions below stop the
// build if a rank is added to models without a row here.
var rankTable = [...]rank{
	models.OfficerTypeUnknown: {level: LevelNone},
	models.OfficerGN: {level: LevelVillages, scopes: []string{
		"citizen:read:villages",
		"citizen:write:villages",
		"process:approve:villages",
		ProcessSign,
	}},
	models.OfficerDivSec: {level: LevelDivisions, scopes: []string{
		"citizen:read:divisions",
		"citizen:write:divisions",
		"process:approve:divisions",
	}},
	models.OfficerDistSec: {level: LevelDistricts, scopes: []string{
		"citizen:read:districts",
		"citizen:write:districts",
		"process:approve:districts",
		"audit:view:districts",
	}},
	models.OfficerProvincial: {level: LevelProvinces, scopes: []string{
		"citizen:read:provinces",
		"citizen:write:provinces",
		"process:approve:provinces",
		"audit:view:provinces",
	}},
	models.OfficerMinistry: {level: LevelCountry, scopes: []string{
		"citizen:read:country",
		"process:approve:country",
		"audit:view:country",
	}},
}

var (
	_ [len(rankTable) - int(models.OfficerTypeCount)]struct{}
	_ [int(models.OfficerTypeCount) - len(rankTable)]struct{}
)

// Derive maps an identity to its ordered capability set. The result is a fresh
// slice; callers may keep or modify it.
func Derive(identity models.Identity) []string {
	switch identity.Actor {
	case models.ActorCitizen:
		return slices.Clone(citizenScopes)
	case models.ActorOfficer:
		return ForRank(identity.OfficerType)
	default:
		return []string{}
	}
}

// ForRank returns the capabilities of an officer rank; unknown ranks get none.
func ForRank(t models.OfficerType) []string {
	if int(t) >= len(rankTable) {
		return []string{}
	}
	out := slices.Clone(rankTable[t].scopes)
	if out == nil {
		return []string{}
	}
	return out
}

// LevelOf reports the jurisdiction breadth of a rank.
func LevelOf(t models.OfficerType) Level {
	if int(t) >= len(rankTable) {
		return LevelNone
	}
	return rankTable[t].level
}

// Contains reports whether scope is in granted.
func Contains(granted []string, scope string) bool {
	return slices.Contains(granted, scope)
}
