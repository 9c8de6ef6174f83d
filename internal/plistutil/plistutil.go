// Package plistutil wraps howett.net/plist with the two encodings this
// engine needs: XML (Info.plist, entitlements, provisioning profile payload)
// and binary (the CodeResources file, which Apple's own tools always emit
// as a binary plist).
package plistutil

import (
	"fmt"

	"howett.net/plist"
)

// Format selects the on-disk plist encoding.
type Format int

const (
	XML Format = iota
	Binary
)

// Decode unmarshals plist data (XML or binary, detected automatically by
// the underlying library) into v.
func Decode(data []byte, v interface{}) error {
	if _, err := plist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("plistutil: decode: %w", err)
	}
	return nil
}

// Encode marshals v using the requested format. XML output is indented with
// tabs to match Apple's own pretty-printed Info.plist files.
func Encode(v interface{}, format Format) ([]byte, error) {
	switch format {
	case Binary:
		data, err := plist.Marshal(v, plist.BinaryFormat)
		if err != nil {
			return nil, fmt.Errorf("plistutil: encode binary: %w", err)
		}
		return data, nil
	default:
		data, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
		if err != nil {
			return nil, fmt.Errorf("plistutil: encode xml: %w", err)
		}
		return data, nil
	}
}

// Dict is a convenience alias for the untyped map plist round-trips
// through, used throughout Info.plist and entitlements handling.
type Dict = map[string]interface{}
