package asyncmc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/asyncmc/asyncmc/meta"
)

// mustKey validates a key at the API boundary. Violations are programmer
// errors and abort.
func mustKey(key string) {
	if err := meta.ValidateKey(key); err != nil {
		panic("asyncmc: " + err.Error())
	}
}

// Get fetches the value stored under key and decodes it into v.
// A miss is not an error: found is false and v is untouched. A payload v
// cannot decode is reported as ErrProtocol.
func (c *Conn) Get(ctx context.Context, key string, v ValueDecoder) (found bool, err error) {
	mustKey(key)

	req := &meta.Request{Cmd: meta.CmdGet, Key: key, Flags: meta.Flags{ReturnValue: true}}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return false, err
	}
	return decodeGetResponse(resp, key, v)
}

// GetWithTTL is Get plus the item's remaining time-to-live. The TTL is
// translated to an absolute instant against the connection clock;
// TTLIndefinite is returned for items that never expire.
func (c *Conn) GetWithTTL(ctx context.Context, key string, v ValueDecoder) (found bool, ttl TTL, err error) {
	mustKey(key)

	req := &meta.Request{Cmd: meta.CmdGet, Key: key, Flags: meta.Flags{ReturnValue: true, ReturnTTL: true}}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return false, TTLIndefinite, err
	}
	found, err = decodeGetResponse(resp, key, v)
	if err != nil || !found {
		return found, TTLIndefinite, err
	}
	return true, ttlFromServer(resp.Flags.RemainingTTL, c.cfg.clock()), nil
}

// GetAndTouch is Get with a TTL update applied to the item on the way.
func (c *Conn) GetAndTouch(ctx context.Context, key string, v ValueDecoder, ttl TTL) (found bool, err error) {
	mustKey(key)

	seconds := ttl.seconds(c.cfg.clock())
	req := &meta.Request{Cmd: meta.CmdGet, Key: key, Flags: meta.Flags{ReturnValue: true, SetTTL: &seconds}}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return false, err
	}
	return decodeGetResponse(resp, key, v)
}

// Touch updates the TTL of an existing item without fetching it.
func (c *Conn) Touch(ctx context.Context, key string, ttl TTL) error {
	mustKey(key)

	seconds := ttl.seconds(c.cfg.clock())
	req := &meta.Request{Cmd: meta.CmdGet, Key: key, Flags: meta.Flags{SetTTL: &seconds}}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case meta.StatusHD:
		return nil
	case meta.StatusEN:
		return errors.Wrapf(ErrKeyNotFound, "touch %q", key)
	default:
		return unexpectedStatus("touch", resp.Status)
	}
}

// Set stores v under key unconditionally.
func (c *Conn) Set(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.store(ctx, "set", key, v, ttl, 0)
}

// Add stores v under key only if the key does not exist yet; ErrKeyExists
// otherwise.
func (c *Conn) Add(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.store(ctx, "add", key, v, ttl, meta.StorageModeAdd)
}

// Replace stores v under key only if the key already exists; ErrKeyNotFound
// otherwise.
func (c *Conn) Replace(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.store(ctx, "replace", key, v, ttl, meta.StorageModeReplace)
}

// Append appends v to the value already stored under key.
func (c *Conn) Append(ctx context.Context, key string, v Value) error {
	return c.store(ctx, "append", key, v, TTL{}, meta.StorageModeAppend)
}

// Prepend prepends v to the value already stored under key.
func (c *Conn) Prepend(ctx context.Context, key string, v Value) error {
	return c.store(ctx, "prepend", key, v, TTL{}, meta.StorageModePrepend)
}

func (c *Conn) store(ctx context.Context, op, key string, v Value, ttl TTL, mode meta.StorageMode) error {
	mustKey(key)

	flags := meta.Flags{StorageMode: mode}
	if mode == 0 || mode == meta.StorageModeAdd || mode == meta.StorageModeReplace {
		seconds := ttl.seconds(c.cfg.clock())
		flags.SetTTL = &seconds
	}

	req := &meta.Request{Cmd: meta.CmdSet, Key: key, Value: v.AppendValue(nil), Flags: flags}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return err
	}

	switch resp.Status {
	case meta.StatusHD:
		return nil
	case meta.StatusNS:
		if mode == meta.StorageModeAdd {
			return errors.Wrapf(ErrKeyExists, "add %q", key)
		}
		return errors.Wrapf(ErrKeyNotFound, "%s %q", op, key)
	case meta.StatusNF:
		return errors.Wrapf(ErrKeyNotFound, "%s %q", op, key)
	default:
		return unexpectedStatus(op, resp.Status)
	}
}

// Delete removes the item stored under key; ErrKeyNotFound when there is
// none.
func (c *Conn) Delete(ctx context.Context, key string) error {
	mustKey(key)

	req := &meta.Request{Cmd: meta.CmdDelete, Key: key}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case meta.StatusHD:
		return nil
	case meta.StatusNF:
		return errors.Wrapf(ErrKeyNotFound, "delete %q", key)
	default:
		return unexpectedStatus("delete", resp.Status)
	}
}

// Increment adds delta to the numeric value stored under key.
// delta must be positive; 0 is a programmer error and panics.
func (c *Conn) Increment(ctx context.Context, key string, delta uint64) error {
	return c.arithmetic(ctx, "increment", key, meta.ArithmeticIncrement, delta)
}

// Decrement subtracts delta from the numeric value stored under key,
// stopping at 0. delta must be positive; 0 is a programmer error and
// panics.
func (c *Conn) Decrement(ctx context.Context, key string, delta uint64) error {
	return c.arithmetic(ctx, "decrement", key, meta.ArithmeticDecrement, delta)
}

func (c *Conn) arithmetic(ctx context.Context, op, key string, mode meta.ArithmeticMode, delta uint64) error {
	mustKey(key)
	if delta == 0 {
		panic("asyncmc: " + op + " delta must be positive")
	}

	req := &meta.Request{Cmd: meta.CmdArithmetic, Key: key, Flags: meta.Flags{ArithmeticMode: mode, Delta: delta}}
	resp, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case meta.StatusHD:
		return nil
	case meta.StatusNF:
		return errors.Wrapf(ErrKeyNotFound, "%s %q", op, key)
	default:
		return unexpectedStatus(op, resp.Status)
	}
}

// decodeGetResponse maps a meta get response onto the (found, error)
// surface shared by the Get variants.
func decodeGetResponse(resp *meta.Response, key string, v ValueDecoder) (bool, error) {
	switch resp.Status {
	case meta.StatusVA:
		if !v.DecodeValue(resp.Value) {
			return false, protocolError("cannot decode %d-byte value for key %q", len(resp.Value), key)
		}
		return true, nil
	case meta.StatusEN:
		return false, nil
	default:
		return false, unexpectedStatus("get", resp.Status)
	}
}
