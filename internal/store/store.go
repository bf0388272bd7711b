// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists clone assignments in modernc.org/kv databases.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"modernc.org/kv"

	"github.com/kortschak/clonealign/infer"
)

// Record is the value stored for each cell.
type Record struct {
	Cell  string
	Clone string
	Prob  float64
	Probs map[string]float64
}

// AssignmentKey is the key stored for each cell.
type AssignmentKey struct {
	Cell  string
	Clone string
	Prob  float64
}

// ByCell is a kv compare function, ordering by cell name.
func ByCell(x, y []byte) int {
	if bytes.Equal(x, y) {
		return 0
	}

	kx := UnmarshalAssignmentKey(x)
	ky := UnmarshalAssignmentKey(y)

	switch {
	case kx.Cell < ky.Cell:
		return -1
	case kx.Cell > ky.Cell:
		return 1
	}

	// Ensure key uniqueness.
	switch {
	case kx.Clone < ky.Clone:
		return -1
	case kx.Clone > ky.Clone:
		return 1
	}
	switch {
	case kx.Prob > ky.Prob:
		return -1
	case kx.Prob < ky.Prob:
		return 1
	}

	panic("unreachable")
}

// ByCloneProbability is a kv compare function, grouping cells by clone
// with the most confidently assigned cells first.
func ByCloneProbability(x, y []byte) int {
	if bytes.Equal(x, y) {
		return 0
	}

	kx := UnmarshalAssignmentKey(x)
	ky := UnmarshalAssignmentKey(y)

	// Group cells of the same clone.
	switch {
	case kx.Clone < ky.Clone:
		return -1
	case kx.Clone > ky.Clone:
		return 1
	}

	// Higher probability assignments first.
	switch {
	case kx.Prob > ky.Prob:
		return -1
	case kx.Prob < ky.Prob:
		return 1
	}

	// Ensure key uniqueness.
	switch {
	case kx.Cell < ky.Cell:
		return -1
	case kx.Cell > ky.Cell:
		return 1
	}

	panic("unreachable")
}

var order = binary.BigEndian

// MarshalAssignmentKey returns the key encoding of k.
func MarshalAssignmentKey(k AssignmentKey) []byte {
	var (
		buf bytes.Buffer
		b   [8]byte
	)
	order.PutUint64(b[:], uint64(len(k.Cell)))
	buf.Write(b[:])
	buf.WriteString(k.Cell)
	order.PutUint64(b[:], uint64(len(k.Clone)))
	buf.Write(b[:])
	buf.WriteString(k.Clone)
	order.PutUint64(b[:], math.Float64bits(k.Prob))
	buf.Write(b[:])
	return buf.Bytes()
}

// UnmarshalAssignmentKey decodes a key written by MarshalAssignmentKey.
func UnmarshalAssignmentKey(data []byte) AssignmentKey {
	var k AssignmentKey
	n64 := binary.Size(uint64(0))
	n := order.Uint64(data[:n64])
	data = data[n64:]
	k.Cell = string(data[:n])
	data = data[n:]
	n = order.Uint64(data[:n64])
	data = data[n64:]
	k.Clone = string(data[:n])
	data = data[n:]
	k.Prob = math.Float64frombits(order.Uint64(data[:n64]))
	return k
}

// Records returns the per-cell records of res.
func Records(res *infer.Result) []Record {
	recs := make([]Record, len(res.Assignment))
	for i, cl := range res.Assignment {
		probs := res.CloneProbs.RawRowView(i)
		r := Record{
			Clone: res.Clone(i),
			Prob:  probs[cl],
			Probs: make(map[string]float64, len(probs)),
		}
		if res.Cells != nil {
			r.Cell = res.Cells[i]
		} else {
			r.Cell = fmt.Sprint(i)
		}
		for j, p := range probs {
			if res.Clones != nil {
				r.Probs[res.Clones[j]] = p
			} else {
				r.Probs[fmt.Sprint(j)] = p
			}
		}
		recs[i] = r
	}
	return recs
}

// Write creates a database at path holding the records of res ordered
// by compare.
func Write(path string, res *infer.Result, compare func(x, y []byte) int) error {
	db, err := kv.Create(path, &kv.Options{Compare: compare})
	if err != nil {
		return err
	}
	err = db.BeginTransaction()
	if err != nil {
		db.Close()
		return err
	}
	for _, r := range Records(res) {
		v, err := json.Marshal(r)
		if err != nil {
			db.Close()
			return err
		}
		err = db.Set(MarshalAssignmentKey(AssignmentKey{Cell: r.Cell, Clone: r.Clone, Prob: r.Prob}), v)
		if err != nil {
			db.Close()
			return err
		}
	}
	err = db.Commit()
	if err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// Do calls fn on each record in the database at path in the order given
// by compare, which must be the order the database was written with.
func Do(path string, compare func(x, y []byte) int, fn func(AssignmentKey, Record) error) error {
	db, err := kv.Open(path, &kv.Options{Compare: compare})
	if err != nil {
		return err
	}
	defer db.Close()

	it, err := db.SeekFirst()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for {
		k, v, err := it.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var r Record
		err = json.Unmarshal(v, &r)
		if err != nil {
			return fmt.Errorf("store: invalid record: %w", err)
		}
		err = fn(UnmarshalAssignmentKey(k), r)
		if err != nil {
			return err
		}
	}
}
