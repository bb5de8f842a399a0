package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Binary layout, fixed header followed by length-prefixed strings:
//
//	offset 0      schema version
//	offset 1      revoked flag (0/1)
//	offset 2..33  refresh hash (32 bytes)
//	offset 34..65 user agent hash (32 bytes)
//	offset 66..73 createdAt, unix seconds, big endian
//	offset 74..81 lastActivityAt, unix seconds, big endian
//	offset 82..89 expiresAt, unix seconds, big endian
//	offset 90..   accountID, role, deviceName, ipAddress (u8 length each)
//
// The mutable fields (revoked flag, refresh hash, lastActivityAt) sit at
// fixed offsets so the Lua scripts in store.go can splice them in place
// without parsing the variable tail.
const (
	encodedHeaderSize = 90

	offsetRevoked      = 1
	offsetRefreshHash  = 2
	offsetLastActivity = 74
	offsetExpiresAt    = 82
)

var errCorruptSession = errors.New("corrupt session record")

// Encode serializes a [Session] into its compact binary form.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if s.Revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	buf.Write(s.RefreshHash[:])
	buf.Write(s.UserAgentHash[:])

	for _, ts := range []int64{s.CreatedAt, s.LastActivityAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{s.AccountID, s.Role, s.DeviceName, s.IPAddress} {
		if len(field) > 255 {
			return nil, errors.New("session string field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

// Decode parses a binary session record. The SessionID is not part of the
// payload; callers set it from the Redis key they fetched.
func Decode(data []byte) (*Session, error) {
	if len(data) < encodedHeaderSize {
		return nil, errCorruptSession
	}

	reader := bytes.NewReader(data)

	version, _ := reader.ReadByte()
	if version != CurrentSchemaVersion {
		return nil, errCorruptSession
	}

	s := &Session{SchemaVersion: version}

	revoked, _ := reader.ReadByte()
	s.Revoked = revoked == 1

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, errCorruptSession
	}
	if _, err := io.ReadFull(reader, s.UserAgentHash[:]); err != nil {
		return nil, errCorruptSession
	}

	for _, dst := range []*int64{&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, errCorruptSession
		}
	}

	for _, dst := range []*string{&s.AccountID, &s.Role, &s.DeviceName, &s.IPAddress} {
		length, err := reader.ReadByte()
		if err != nil {
			return nil, errCorruptSession
		}
		field := make([]byte, length)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, errCorruptSession
		}
		*dst = string(field)
	}

	return s, nil
}
