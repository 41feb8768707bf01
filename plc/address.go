package plc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIncompleteAddress is returned when a descriptor lacks a part the
// device family requires.
var ErrIncompleteAddress = errors.New("incomplete address descriptor")

// AddressDescriptor is a logical register address. Byte and Bit are
// optional.
type AddressDescriptor struct {
	RegisterType string `json:"registerType"`
	Number       int    `json:"dbOrRegisterNumber"`
	Byte         *int   `json:"byte,omitempty"`
	Bit          *int   `json:"bit,omitempty"`
}

func (d AddressDescriptor) String() string {
	s := fmt.Sprintf("%s%d", strings.ToUpper(d.RegisterType), d.Number)
	if d.Byte != nil {
		s += fmt.Sprintf(".%d", *d.Byte)
	}
	if d.Bit != nil {
		s += fmt.Sprintf(".%d", *d.Bit)
	}
	return s
}

// IsMitsubishi reports whether the device uses Mitsubishi-class register
// addressing: MC protocol port 6000, or a brand or type naming Mitsubishi.
// Everything else is addressed Siemens-style.
func IsMitsubishi(info DeviceInfo) bool {
	if info.Port == 6000 {
		return true
	}
	for _, s := range []string{info.Brand, info.LogicalType, info.Model} {
		if strings.Contains(strings.ToLower(s), "mitsubishi") {
			return true
		}
	}
	return false
}

// TranslateAddress renders a descriptor as the wire address the device
// family expects. It performs no I/O.
//
//	Siemens     DB10 byte 0 bit 0   -> DB10.DBX0.0
//	Mitsubishi  DB10 byte 0 bit 0   -> D10.0
//	Mitsubishi  DB100 byte 1 bit 3  -> D100.11   (bit position byte*8+bit)
func TranslateAddress(desc AddressDescriptor, info DeviceInfo) (string, error) {
	typ := strings.ToUpper(strings.TrimSpace(desc.RegisterType))
	if typ == "" {
		return "", fmt.Errorf("%w: register type is required", ErrIncompleteAddress)
	}
	if desc.Number < 0 || (desc.Byte != nil && *desc.Byte < 0) || (desc.Bit != nil && *desc.Bit < 0) {
		return "", fmt.Errorf("%w: negative address component in %s", ErrIncompleteAddress, desc)
	}

	if IsMitsubishi(info) {
		if typ == "DB" {
			switch {
			case desc.Byte != nil && desc.Bit != nil:
				return fmt.Sprintf("D%d.%d", desc.Number, *desc.Byte*8+*desc.Bit), nil
			case desc.Bit != nil:
				return fmt.Sprintf("D%d.%d", desc.Number, *desc.Bit), nil
			default:
				return fmt.Sprintf("D%d", desc.Number), nil
			}
		}
		if desc.Bit != nil {
			return fmt.Sprintf("%s%d.%d", typ, desc.Number, *desc.Bit), nil
		}
		return fmt.Sprintf("%s%d", typ, desc.Number), nil
	}

	if typ == "DB" {
		if desc.Byte == nil || desc.Bit == nil {
			return "", fmt.Errorf("%w: %s needs byte and bit on a Siemens-class device", ErrIncompleteAddress, desc)
		}
		return fmt.Sprintf("DB%d.DBX%d.%d", desc.Number, *desc.Byte, *desc.Bit), nil
	}
	if desc.Bit == nil {
		return "", fmt.Errorf("%w: %s needs a bit on a Siemens-class device", ErrIncompleteAddress, desc)
	}
	return fmt.Sprintf("%s%d.%d", typ, desc.Number, *desc.Bit), nil
}

// ParseAddress parses the stored shorthand used on actions:
//
//	DB10.0.1     DB 10, byte 0, bit 1
//	DB10.DBX0.1  same, Siemens notation
//	DB10.3       DB 10, bit 3
//	D100         D 100
//	M5.2         M 5, bit 2
func ParseAddress(s string) (AddressDescriptor, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return AddressDescriptor{}, fmt.Errorf("%w: empty address", ErrIncompleteAddress)
	}
	parts := strings.Split(s, ".")
	head := parts[0]
	i := strings.IndexFunc(head, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return AddressDescriptor{}, fmt.Errorf("invalid address %q", s)
	}
	n, err := strconv.Atoi(head[i:])
	if err != nil {
		return AddressDescriptor{}, fmt.Errorf("invalid register number in %q", s)
	}
	desc := AddressDescriptor{RegisterType: head[:i], Number: n}

	nums := make([]int, 0, 2)
	for _, p := range parts[1:] {
		p = strings.TrimPrefix(p, "DBX")
		v, err := strconv.Atoi(p)
		if err != nil {
			return AddressDescriptor{}, fmt.Errorf("invalid address component %q in %q", p, s)
		}
		nums = append(nums, v)
	}
	switch len(nums) {
	case 0:
	case 1:
		desc.Bit = &nums[0]
	case 2:
		if desc.RegisterType != "DB" {
			return AddressDescriptor{}, fmt.Errorf("byte.bit form only valid for DB: %q", s)
		}
		desc.Byte = &nums[0]
		desc.Bit = &nums[1]
	default:
		return AddressDescriptor{}, fmt.Errorf("too many components in %q", s)
	}
	return desc, nil
}

// Int returns a pointer to v, for building descriptors.
func Int(v int) *int { return &v }
