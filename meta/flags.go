package meta

// StorageMode selects the ms storage behavior carried by the M flag.
// The zero value means plain set.
type StorageMode byte

// ArithmeticMode selects the ma direction carried by the M flag.
// The zero value is invalid on the wire; arithmetic requests always set it.
type ArithmeticMode byte

// Flags is the typed representation of a meta protocol flag block.
//
// On requests the fields drive serialization; on responses they hold the
// tokens echoed by the server. Optional numeric fields are pointers so that
// "absent" and "zero" stay distinct.
type Flags struct {
	// ReturnValue asks mg to return the item value (v).
	ReturnValue bool

	// ReturnTTL asks mg to return the remaining TTL (t).
	ReturnTTL bool

	// SetTTL carries a new TTL in seconds or as an absolute Unix
	// timestamp (T<n>). 0 means no expiration.
	SetTTL *int64

	// RemainingTTL is the server-reported remaining TTL in seconds from
	// a t<n> response token. -1 means the item never expires.
	RemainingTTL *int64

	// StorageMode is the ms mode letter (M<E|A|P|R>). Mutually exclusive
	// with ArithmeticMode.
	StorageMode StorageMode

	// ArithmeticMode is the ma direction (M<+|->). Delta carries the
	// amount; both travel together.
	ArithmeticMode ArithmeticMode
	Delta          uint64
}

// IsZero reports whether no flag is set.
func (f *Flags) IsZero() bool {
	return !f.ReturnValue && !f.ReturnTTL && f.SetTTL == nil &&
		f.RemainingTTL == nil && f.StorageMode == 0 && f.ArithmeticMode == 0 &&
		f.Delta == 0
}

// EncodeTo appends the flag block, each token preceded by a single space,
// in the stable order: v, t, T<n>, M<letter>, M<+|-> D<delta>.
//
// Setting both StorageMode and ArithmeticMode is a programmer error and
// panics.
func (f *Flags) EncodeTo(b *Buffer) {
	if f.StorageMode != 0 && f.ArithmeticMode != 0 {
		panic("meta: storage mode and arithmetic mode are mutually exclusive")
	}

	if f.ReturnValue {
		b.AppendString(" v")
	}
	if f.ReturnTTL {
		b.AppendString(" t")
	}
	if f.SetTTL != nil {
		b.AppendString(" T")
		b.AppendInt(*f.SetTTL)
	}
	if f.StorageMode != 0 {
		b.AppendString(" M")
		b.AppendByte(byte(f.StorageMode))
	}
	if f.ArithmeticMode != 0 {
		b.AppendString(" M")
		b.AppendByte(byte(f.ArithmeticMode))
		b.AppendString(" D")
		b.AppendUint(f.Delta)
	}
}

// decodeFlags consumes flag tokens from b until the CRLF terminator, which
// is consumed as well. The caller guarantees a full line is buffered.
func decodeFlags(b *Buffer, f *Flags) error {
	for {
		for {
			c, ok := b.PeekByte()
			if !ok {
				return &ParseError{Message: "missing CRLF after flags"}
			}
			if c != ' ' {
				break
			}
			b.Advance(1)
		}

		if b.ConsumeCRLF() {
			return nil
		}

		c, _ := b.PeekByte()
		switch c {
		case 'v':
			b.Advance(1)
			f.ReturnValue = true
		case 't':
			b.Advance(1)
			if n, ok := b.ReadInt(); ok {
				f.RemainingTTL = &n
			} else {
				f.ReturnTTL = true
			}
		case 'T':
			b.Advance(1)
			n, ok := b.ReadInt()
			if !ok {
				return &ParseError{Message: "T flag without a value"}
			}
			f.SetTTL = &n
		case 'M':
			b.Advance(1)
			m, ok := b.PeekByte()
			if !ok {
				return &ParseError{Message: "M flag without a mode"}
			}
			b.Advance(1)
			switch m {
			case byte(StorageModeAdd), byte(StorageModeAppend),
				byte(StorageModePrepend), byte(StorageModeReplace):
				f.StorageMode = StorageMode(m)
			case byte(ArithmeticIncrement), byte(ArithmeticDecrement):
				f.ArithmeticMode = ArithmeticMode(m)
			default:
				return &ParseError{Message: "unknown mode " + string(m)}
			}
		case 'D':
			b.Advance(1)
			n, ok := b.ReadUint()
			if !ok {
				return &ParseError{Message: "D flag without a value"}
			}
			f.Delta = n
		case '\r':
			return &ParseError{Message: "missing CRLF after flags"}
		default:
			return &ParseError{Message: "unknown flag byte " + string(c)}
		}
	}
}
