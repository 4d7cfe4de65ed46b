package ticket

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/authkit/authkit/pkg/identity"
)

// Serialization format versions. A payload whose leading version byte does not
// match deserializes to nothing: there is no partial or legacy decoding, a hard
// failure is preferred over silent misinterpretation.
const (
	ticketFormatVersion     = 1
	propertiesFormatVersion = 1
)

// defaultPlaceholder is written in place of a string field whose value equals
// the agreed default, to keep payloads compact. Writer and reader must agree on
// it exactly.
const defaultPlaceholder = "\x00"

// TicketSerializer encodes authentication tickets into the compact versioned
// binary format shared by the cookie and remote handlers.
type TicketSerializer struct{}

// Serialize encodes the ticket. It fails only on invalid input, never on any
// well-formed ticket.
func (TicketSerializer) Serialize(t *Ticket) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot serialize a nil ticket")
	}
	w := newWriter()
	w.writeByte(ticketFormatVersion)
	w.writeString(t.Scheme)

	var identities []*identity.Identity
	if t.Principal != nil {
		identities = t.Principal.Identities
	}
	w.writeCount(len(identities))
	for _, id := range identities {
		if id == nil {
			return nil, fmt.Errorf("cannot serialize a nil identity")
		}
		writeIdentity(w, id)
	}

	writeItems(w, t.Properties)
	return w.bytes(), nil
}

// Deserialize decodes a ticket previously produced by Serialize. It returns
// false on any malformed payload or version mismatch.
func (TicketSerializer) Deserialize(data []byte) (*Ticket, bool) {
	r := newReader(data)
	version, err := r.readByte()
	if err != nil || version != ticketFormatVersion {
		return nil, false
	}
	scheme, err := r.readString()
	if err != nil {
		return nil, false
	}
	count, err := r.readCount()
	if err != nil {
		return nil, false
	}
	principal := identity.NewPrincipal()
	for n := 0; n < count; n++ {
		id, err := readIdentity(r)
		if err != nil {
			return nil, false
		}
		principal.AddIdentity(id)
	}
	props, err := readItems(r)
	if err != nil || !r.exhausted() {
		return nil, false
	}
	return &Ticket{Principal: principal, Scheme: scheme, Properties: props}, true
}

func writeIdentity(w *writer, id *identity.Identity) {
	nameType := id.NameClaimType
	if nameType == "" {
		nameType = identity.ClaimTypeName
	}
	roleType := id.RoleClaimType
	if roleType == "" {
		roleType = identity.ClaimTypeRole
	}
	w.writeString(id.AuthenticationType)
	w.writeWithDefault(nameType, identity.ClaimTypeName)
	w.writeWithDefault(roleType, identity.ClaimTypeRole)
	w.writeCount(len(id.Claims))
	for _, c := range id.Claims {
		writeClaim(w, c, nameType)
	}
	if id.Actor != nil {
		w.writeBool(true)
		writeIdentity(w, id.Actor)
	} else {
		w.writeBool(false)
	}
}

func readIdentity(r *reader) (*identity.Identity, error) {
	authType, err := r.readString()
	if err != nil {
		return nil, err
	}
	nameType, err := r.readWithDefault(identity.ClaimTypeName)
	if err != nil {
		return nil, err
	}
	roleType, err := r.readWithDefault(identity.ClaimTypeRole)
	if err != nil {
		return nil, err
	}
	id := &identity.Identity{
		AuthenticationType: authType,
		NameClaimType:      nameType,
		RoleClaimType:      roleType,
	}
	count, err := r.readCount()
	if err != nil {
		return nil, err
	}
	for n := 0; n < count; n++ {
		c, err := readClaim(r, nameType)
		if err != nil {
			return nil, err
		}
		id.AddClaim(c)
	}
	hasActor, err := r.readBool()
	if err != nil {
		return nil, err
	}
	if hasActor {
		actor, err := readIdentity(r)
		if err != nil {
			return nil, err
		}
		id.Actor = actor
	}
	return id, nil
}

func writeClaim(w *writer, c identity.Claim, nameClaimType string) {
	w.writeWithDefault(c.Type, nameClaimType)
	w.writeString(c.Value)
	w.writeWithDefault(c.ValueType, identity.ClaimValueTypeString)
	w.writeWithDefault(c.Issuer, identity.LocalAuthority)
	w.writeWithDefault(c.OriginalIssuer, c.Issuer)
	w.writeCount(len(c.Properties))
	for _, k := range sortedKeys(c.Properties) {
		w.writeString(k)
		w.writeString(c.Properties[k])
	}
}

func readClaim(r *reader, nameClaimType string) (identity.Claim, error) {
	var c identity.Claim
	var err error
	if c.Type, err = r.readWithDefault(nameClaimType); err != nil {
		return c, err
	}
	if c.Value, err = r.readString(); err != nil {
		return c, err
	}
	if c.ValueType, err = r.readWithDefault(identity.ClaimValueTypeString); err != nil {
		return c, err
	}
	if c.Issuer, err = r.readWithDefault(identity.LocalAuthority); err != nil {
		return c, err
	}
	if c.OriginalIssuer, err = r.readWithDefault(c.Issuer); err != nil {
		return c, err
	}
	count, err := r.readCount()
	if err != nil {
		return c, err
	}
	if count > 0 {
		c.Properties = make(map[string]string, count)
		for n := 0; n < count; n++ {
			k, err := r.readString()
			if err != nil {
				return c, err
			}
			v, err := r.readString()
			if err != nil {
				return c, err
			}
			c.Properties[k] = v
		}
	}
	return c, nil
}

// PropertiesSerializer encodes a properties bag on its own, as embedded in the
// protected state of a remote authentication challenge.
type PropertiesSerializer struct{}

// Serialize encodes the properties bag.
func (PropertiesSerializer) Serialize(p *Properties) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot serialize nil properties")
	}
	w := newWriter()
	w.writeByte(propertiesFormatVersion)
	writeItems(w, p)
	return w.bytes(), nil
}

// Deserialize decodes a properties bag, returning false on any malformed
// payload or version mismatch.
func (PropertiesSerializer) Deserialize(data []byte) (*Properties, bool) {
	r := newReader(data)
	version, err := r.readByte()
	if err != nil || version != propertiesFormatVersion {
		return nil, false
	}
	props, err := readItems(r)
	if err != nil || !r.exhausted() {
		return nil, false
	}
	return props, true
}

func writeItems(w *writer, p *Properties) {
	if p == nil {
		w.writeCount(0)
		return
	}
	w.writeCount(len(p.Items))
	for _, k := range sortedKeys(p.Items) {
		w.writeString(k)
		w.writeString(p.Items[k])
	}
}

func readItems(r *reader) (*Properties, error) {
	count, err := r.readCount()
	if err != nil {
		return nil, err
	}
	props := NewProperties()
	for n := 0; n < count; n++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		props.Items[k] = v
	}
	return props, nil
}

// writer builds a payload of varint-length-prefixed strings.
type writer struct {
	buf bytes.Buffer
}

func newWriter() *writer { return &writer{} }

func (w *writer) writeByte(b byte) { w.buf.WriteByte(b) }

func (w *writer) writeBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) writeCount(n int) {
	w.buf.Write(binary.AppendUvarint(nil, uint64(n)))
}

func (w *writer) writeString(s string) {
	w.writeCount(len(s))
	w.buf.WriteString(s)
}

func (w *writer) writeWithDefault(s, def string) {
	if s == def {
		w.writeString(defaultPlaceholder)
	} else {
		w.writeString(s)
	}
}

func (w *writer) bytes() []byte { return w.buf.Bytes() }

// reader consumes a payload produced by writer, failing on any truncation or
// overrun.
type reader struct {
	r *bytes.Reader
}

func newReader(data []byte) *reader {
	return &reader{r: bytes.NewReader(data)}
}

func (r *reader) readByte() (byte, error) { return r.r.ReadByte() }

func (r *reader) readBool() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean marker %d", b)
	}
}

func (r *reader) readCount() (int, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, err
	}
	if n > uint64(r.r.Len()) {
		return 0, fmt.Errorf("count %d exceeds remaining payload", n)
	}
	return int(n), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readCount()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *reader) readWithDefault(def string) (string, error) {
	s, err := r.readString()
	if err != nil {
		return "", err
	}
	if s == defaultPlaceholder {
		return def, nil
	}
	return s, nil
}

func (r *reader) exhausted() bool { return r.r.Len() == 0 }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic output keeps serialized tickets stable across runs.
	sort.Strings(keys)
	return keys
}
