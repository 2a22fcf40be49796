package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
)

const magic = "LOCACRB1"

type header struct {
	Regime       generator.Regime     `json:"regime"`
	Columns      []string             `json:"columns"`
	ActionScaler features.ValueScaler `json:"action_scaler"`
	RewardScaler features.ValueScaler `json:"reward_scaler"`
	Episodes     []int                `json:"episodes"`
}

// Encode writes the buffer as a JSON header followed by little-endian
// float32 rows (observation..., action, reward).
func (b *Buffer) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	h := header{
		Regime:       b.Regime,
		Columns:      b.Schema.Columns,
		ActionScaler: b.ActionScaler,
		RewardScaler: b.RewardScaler,
	}
	for _, ep := range b.Episodes {
		h.Episodes = append(h.Episodes, ep.Len())
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(raw))); err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	width := len(b.Schema.Columns)
	row := make([]byte, 4*(width+2))
	for _, ep := range b.Episodes {
		for i := 0; i < ep.Len(); i++ {
			if len(ep.Observations[i]) != width {
				return fmt.Errorf("row %d has width %d, schema %d", i, len(ep.Observations[i]), width)
			}
			for j, v := range ep.Observations[i] {
				binary.LittleEndian.PutUint32(row[4*j:], math.Float32bits(v))
			}
			binary.LittleEndian.PutUint32(row[4*width:], math.Float32bits(ep.Actions[i]))
			binary.LittleEndian.PutUint32(row[4*width+4:], math.Float32bits(ep.Rewards[i]))
			if _, err := bw.Write(row); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Decode reads a buffer written by Encode.
func Decode(r io.Reader) (*Buffer, error) {
	br := bufio.NewReader(r)
	mg := make([]byte, len(magic))
	if _, err := io.ReadFull(br, mg); err != nil {
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	if string(mg) != magic {
		return nil, errors.New("not a replay buffer")
	}
	var n uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode replay header: %w", err)
	}
	b := &Buffer{
		Regime:       h.Regime,
		Schema:       features.Schema{Regime: h.Regime, Columns: h.Columns},
		ActionScaler: h.ActionScaler,
		RewardScaler: h.RewardScaler,
	}
	width := len(h.Columns)
	row := make([]byte, 4*(width+2))
	for _, length := range h.Episodes {
		ep := Episode{
			Observations: make([][]float32, length),
			Actions:      make([]float32, length),
			Rewards:      make([]float32, length),
		}
		for i := 0; i < length; i++ {
			if _, err := io.ReadFull(br, row); err != nil {
				return nil, fmt.Errorf("read replay row %d: %w", i, err)
			}
			obs := make([]float32, width)
			for j := range obs {
				obs[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[4*j:]))
			}
			ep.Observations[i] = obs
			ep.Actions[i] = math.Float32frombits(binary.LittleEndian.Uint32(row[4*width:]))
			ep.Rewards[i] = math.Float32frombits(binary.LittleEndian.Uint32(row[4*width+4:]))
		}
		b.Episodes = append(b.Episodes, ep)
	}
	return b, nil
}

func (b *Buffer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
