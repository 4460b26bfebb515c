// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package encoding defines the binary layout of artifacts written by graphcf.
//
// A tensor is stored little-endian as
//
//	magic "GCFT" | rank uint32 | dims [rank]int64 | values [prod(dims)]float32
//
// so that embedding and gradient dumps can be loaded with a plain reader such as
// numpy.fromfile after skipping the header.
package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"strconv"

	"github.com/juju/errors"
)

var tensorMagic = [4]byte{'G', 'C', 'F', 'T'}

type tensorHeader struct {
	Magic [4]byte
	Rank  uint32
}

// maxTensorRank and maxTensorSize bound allocations for corrupted headers.
const (
	maxTensorRank = 8
	maxTensorSize = 1 << 31
)

// WriteTensor writes the shape and the values of a dense array.
func WriteTensor(w io.Writer, shape []int, data []float32) error {
	if len(shape) > maxTensorRank {
		return errors.NotValidf("tensor rank %d", len(shape))
	}
	dims := make([]int64, len(shape))
	size := 1
	for i, d := range shape {
		dims[i] = int64(d)
		size *= d
	}
	if size != len(data) {
		return errors.NotValidf("tensor of shape %v with %d values", shape, len(data))
	}
	header := tensorHeader{Magic: tensorMagic, Rank: uint32(len(dims))}
	for _, v := range []any{header, dims, data} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadTensor reads a dense array written by WriteTensor.
func ReadTensor(r io.Reader) ([]int, []float32, error) {
	var header tensorHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if header.Magic != tensorMagic {
		return nil, nil, errors.NotValidf("tensor magic %q", header.Magic[:])
	}
	if header.Rank > maxTensorRank {
		return nil, nil, errors.NotValidf("tensor rank %d", header.Rank)
	}
	dims := make([]int64, header.Rank)
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return nil, nil, errors.Trace(err)
	}
	shape := make([]int, len(dims))
	size := int64(1)
	for i, d := range dims {
		size *= d
		if d < 0 || size > maxTensorSize {
			return nil, nil, errors.NotValidf("tensor shape %v", dims)
		}
		shape[i] = int(d)
	}
	data := make([]float32, size)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return shape, data, nil
}

// WriteGob writes a gob encoded value prefixed by its length, so that gob's
// buffered decoder never reads past it.
func WriteGob(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(buf.Len())); err != nil {
		return errors.Trace(err)
	}
	_, err := buf.WriteTo(w)
	return errors.Trace(err)
}

// ReadGob reads a value written by WriteGob.
func ReadGob(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return errors.Trace(err)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(gob.NewDecoder(bytes.NewReader(data)).Decode(v))
}

// FormatFloat32 prints the shortest decimal that reads back to the same float32.
func FormatFloat32(val float32) string {
	return strconv.FormatFloat(float64(val), 'f', -1, 32)
}
