package engine

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"lukechampine.com/blake3"

	"stellarcolony.ai/internal/sim/contracts"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// Digest hashes every piece of state that influences future ticks. Two engines
// with equal digests behave identically given the same intents.
func (e *Engine) Digest() string {
	h := blake3.New(32, nil)
	var tmp [8]byte

	digestWriteString(h, &tmp, e.cat.Name)
	digestWriteU64(h, &tmp, e.tick)

	for _, name := range e.ledger.Names() {
		digestWriteString(h, &tmp, name)
		digestWriteF64(h, &tmp, e.ledger.Amount(name))
		digestWriteF64(h, &tmp, e.clickPower[name])
	}

	e.registry.Each(func(key string, owned, level int) {
		digestWriteString(h, &tmp, key)
		digestWriteU64(h, &tmp, uint64(owned))
		digestWriteU64(h, &tmp, uint64(level))
	})

	if e.contracts != nil {
		digestWriteU64(h, &tmp, e.contracts.NextNum())
		digestContracts(h, &tmp, e.contracts.Available())
		digestContracts(h, &tmp, e.contracts.Active())
	}

	digestWriteU64(h, &tmp, uint64(e.planets.Level()))
	pending, ok := e.planets.Pending()
	h.Write([]byte{boolByte(ok)})
	digestWriteU64(h, &tmp, uint64(pending))

	digestWriteU64(h, &tmp, uint64(e.prestige.Level()))
	digestWriteU64(h, &tmp, uint64(e.prestige.Bonus()))

	return hex.EncodeToString(h.Sum(nil))
}

func digestContracts(h hashWriter, tmp *[8]byte, list []contracts.Contract) {
	digestWriteU64(h, tmp, uint64(len(list)))
	for _, c := range list {
		digestWriteString(h, tmp, c.ID)
		digestWriteString(h, tmp, c.Demand)
		digestWriteU64(h, tmp, uint64(c.Amount))
		digestWriteU64(h, tmp, uint64(c.Payment))
		digestWriteU64(h, tmp, uint64(c.TimeRemaining))
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
