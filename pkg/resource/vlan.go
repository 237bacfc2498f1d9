package resource

import (
	"strconv"
	"strings"
)

// Valid VLAN id range.
const (
	MinVLAN = 1
	MaxVLAN = 4094
)

// Canonical allowed-VLAN lists for the CLI keywords ALL and NONE.
const (
	VLANListAll  = "1-4094"
	VLANListNone = "none"
)

// CanonicalVLAN returns s as a bare decimal VLAN id, the way the device
// reports it: no sign, no leading zeros, no surrounding space.
func CanonicalVLAN(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return "", false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < MinVLAN || n > MaxVLAN {
		return "", false
	}
	return strconv.Itoa(n), true
}

// CanonicalVLANList returns s as the device renders an allowed-VLAN list:
// ids sorted, consecutive ids merged into ranges, no spaces. The keywords
// ALL and NONE map to VLANListAll and VLANListNone.
func CanonicalVLANList(s string) (string, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "":
		return "", false
	case "ALL":
		return VLANListAll, true
	case "NONE":
		return VLANListNone, true
	}

	var set [MaxVLAN + 1]bool
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			hi = lo
		}
		a, ok := vlanNumber(lo)
		if !ok {
			return "", false
		}
		b, ok := vlanNumber(hi)
		if !ok || a > b {
			return "", false
		}
		for n := a; n <= b; n++ {
			set[n] = true
		}
	}

	var parts []string
	for n := MinVLAN; n <= MaxVLAN; n++ {
		if !set[n] {
			continue
		}
		start := n
		for n < MaxVLAN && set[n+1] {
			n++
		}
		if start == n {
			parts = append(parts, strconv.Itoa(n))
		} else {
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(n))
		}
	}
	return strings.Join(parts, ","), true
}

func vlanNumber(s string) (int, bool) {
	c, ok := CanonicalVLAN(s)
	if !ok {
		return 0, false
	}
	n, _ := strconv.Atoi(c)
	return n, true
}

// IsVLAN reports whether s is a VLAN id in canonical form.
func IsVLAN(s string) bool {
	c, ok := CanonicalVLAN(s)
	return ok && c == s
}

// IsVLANList reports whether s is an allowed-VLAN list in canonical form,
// such as "1,10-20,30" or "none".
func IsVLANList(s string) bool {
	c, ok := CanonicalVLANList(s)
	return ok && c == s
}

// Canonical returns a copy of r with its VLAN attributes rewritten into the
// form the device reports. Values that do not parse are left for Validate to
// reject.
func Canonical(r Record) Record {
	sp, ok := r.(*Switchport)
	if !ok {
		return r
	}
	c := *sp
	c.AccessVLAN = canonicalValue(c.AccessVLAN, CanonicalVLAN)
	c.TrunkNativeVLAN = canonicalValue(c.TrunkNativeVLAN, CanonicalVLAN)
	c.TrunkAllowedVLANs = canonicalValue(c.TrunkAllowedVLANs, CanonicalVLANList)
	return &c
}

func canonicalValue(v *string, canon func(string) (string, bool)) *string {
	if v == nil {
		return nil
	}
	if c, ok := canon(*v); ok {
		return String(c)
	}
	return v
}
