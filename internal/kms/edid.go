package kms

import (
	"bytes"
	"strconv"
	"strings"
)

var edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

const (
	edidMinSize          = 128
	edidDescriptorStart  = 54
	edidDescriptorSize   = 18
	edidDescriptorCount  = 4
	descriptorSerial     = 0xff
	descriptorText       = 0xfe
	descriptorMonitorTag = 0xfc
)

// EDID holds the identification fields of a monitor's EDID block.
type EDID struct {
	Valid        bool
	EisaID       string
	ProductCode  uint16
	SerialNumber string
	MonitorName  string
	Text         string
	// physical size in millimetres, zero when the panel does not say
	WidthMM, HeightMM uint32
	Raw               []byte
}

// ParseEDID decodes the base block. An invalid blob yields Valid false and
// keeps Raw for callers that forward it untouched.
func ParseEDID(data []byte) EDID {
	e := EDID{Raw: data}
	if len(data) < edidMinSize || !bytes.Equal(data[:8], edidHeader) {
		return e
	}

	// three 5-bit letters, 'A' encoded as 1
	pnp := uint16(data[8])<<8 | uint16(data[9])
	letters := []byte{
		byte(pnp>>10&0x1f) + 'A' - 1,
		byte(pnp>>5&0x1f) + 'A' - 1,
		byte(pnp&0x1f) + 'A' - 1,
	}
	for _, c := range letters {
		if c < 'A' || c > 'Z' {
			return e
		}
	}
	e.EisaID = string(letters)
	e.ProductCode = uint16(data[10]) | uint16(data[11])<<8

	e.WidthMM = uint32(data[21]) * 10
	e.HeightMM = uint32(data[22]) * 10

	for i := 0; i < edidDescriptorCount; i++ {
		d := data[edidDescriptorStart+i*edidDescriptorSize:][:edidDescriptorSize]
		if d[0] != 0 || d[1] != 0 || d[2] != 0 {
			continue
		}
		switch d[3] {
		case descriptorMonitorTag:
			e.MonitorName = descriptorString(d[5:])
		case descriptorSerial:
			e.SerialNumber = descriptorString(d[5:])
		case descriptorText:
			e.Text = descriptorString(d[5:])
		}
	}
	if e.SerialNumber == "" {
		serial := uint32(data[12]) | uint32(data[13])<<8 | uint32(data[14])<<16 | uint32(data[15])<<24
		if serial != 0 {
			e.SerialNumber = strconv.FormatUint(uint64(serial), 10)
		}
	}
	e.Valid = true
	return e
}

func descriptorString(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// Name returns the monitor name, falling back to the descriptor text and
// then the product code.
func (e EDID) Name() string {
	switch {
	case e.MonitorName != "":
		return e.MonitorName
	case e.Text != "":
		return e.Text
	case e.Valid:
		return "0x" + strconv.FormatUint(uint64(e.ProductCode), 16)
	}
	return ""
}
