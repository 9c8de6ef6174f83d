package plistutil

import (
	"encoding/asn1"
	"fmt"
	"sort"
)

// EncodeDER converts a plist dictionary to Apple's DER encoding for
// embedded entitlements (CSSLOT_ENTITLEMENTS_DER). The format is Apple's
// own plist-to-DER convention, not a standard ASN.1 schema:
//
//	top level:  APPLICATION 16 { INTEGER 1, dict }
//	dictionary: [16] { SEQUENCE { UTF8String key, value }... }  (keys sorted)
//	array:      SEQUENCE { value... }
//	bool/int:   standard ASN.1 BOOLEAN/INTEGER
//	string:     UTF8String
func EncodeDER(dict Dict) ([]byte, error) {
	dictContent, err := encodeDict(dict)
	if err != nil {
		return nil, err
	}

	versionBytes, err := asn1.Marshal(1)
	if err != nil {
		return nil, fmt.Errorf("plistutil: marshal DER version: %w", err)
	}

	content := append(versionBytes, dictContent...)
	return wrapTag(0x70, content), nil // APPLICATION 16, constructed
}

func encodeDict(dict Dict) ([]byte, error) {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []byte
	for _, key := range keys {
		valueBytes, err := encodeValue(dict[key])
		if err != nil {
			return nil, fmt.Errorf("plistutil: encode DER value for %q: %w", key, err)
		}
		pair := append(encodeUTF8(key), valueBytes...)
		pairs = append(pairs, wrapTag(0x30, pair)...) // SEQUENCE
	}

	// Apple wraps the pair sequences directly in a context tag [16], with
	// no outer SEQUENCE around the whole set.
	return wrapTag(0xB0, pairs), nil
}

func encodeUTF8(s string) []byte {
	return wrapTag(0x0C, []byte(s))
}

func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case bool:
		return asn1.Marshal(val)
	case string:
		return encodeUTF8(val), nil
	case int:
		return asn1.Marshal(val)
	case int64:
		return asn1.Marshal(val)
	case uint64:
		return asn1.Marshal(int64(val))
	case []interface{}:
		var content []byte
		for _, item := range val {
			b, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			content = append(content, b...)
		}
		return wrapTag(0x30, content), nil
	case map[string]interface{}:
		return encodeDict(val)
	default:
		return nil, fmt.Errorf("plistutil: unsupported DER value type %T", v)
	}
}

// wrapTag prefixes content with a DER tag-and-length header.
func wrapTag(tag byte, content []byte) []byte {
	n := len(content)
	var header []byte
	switch {
	case n < 128:
		header = []byte{tag, byte(n)}
	case n < 256:
		header = []byte{tag, 0x81, byte(n)}
	case n < 65536:
		header = []byte{tag, 0x82, byte(n >> 8), byte(n)}
	default:
		header = []byte{tag, 0x83, byte(n >> 16), byte(n >> 8), byte(n)}
	}
	return append(header, content...)
}
