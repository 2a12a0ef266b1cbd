// stringcodec.go -- latin-1 string helpers for callers migrating off a
// str/bytes-distinguishing API
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cdbx

// StringKey encodes s as a key, succeeding only if every rune fits in a
// single latin-1 byte (0x00-0xff). cdbx's own API takes []byte directly;
// this exists for callers porting code that used to pass a text string
// and relied on implicit latin-1/ascii encoding.
func StringKey(s string) ([]byte, error) {
	return encodeLatin1(s)
}

// StringValue is StringKey's twin for the value side of a record.
func StringValue(s string) ([]byte, error) {
	return encodeLatin1(s)
}

func encodeLatin1(s string) ([]byte, error) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, ErrInvalidKey
		}
		b = append(b, byte(r))
	}
	return b, nil
}
