// Package icrypto builds the additional authenticated data and derived keys
// used to seal clinic records.
package icrypto

import "encoding/binary"

const aadRecord = "RECORD"

// AADRecord binds a sealed record to its location, so an envelope copied
// to another bucket, kind or id fails to open. Every string is length
// prefixed, so "ab"+"c" and "a"+"bc" never collide.
func AADRecord(bucket, kind, id string, ver int) []byte {
	var aad []byte
	for _, s := range []string{aadRecord, bucket, kind, id} {
		aad = binary.BigEndian.AppendUint32(aad, uint32(len(s)))
		aad = append(aad, s...)
	}
	return binary.BigEndian.AppendUint32(aad, uint32(ver))
}
