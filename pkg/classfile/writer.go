package classfile

import (
	"encoding/binary"
	"io"
)

// Bytes serializes the class file. It fails only if the pool cannot be
// written, in which case nothing is returned.
func (f *File) Bytes() ([]byte, error) {
	b := binary.BigEndian.AppendUint32(nil, Magic)
	b = binary.BigEndian.AppendUint16(b, f.Version.Minor)
	b = binary.BigEndian.AppendUint16(b, f.Version.Major)
	b, err := f.Pool.AppendTo(b)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint16(b, f.Access)
	b = binary.BigEndian.AppendUint16(b, f.This)
	b = binary.BigEndian.AppendUint16(b, f.Super)
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Interfaces)))
	for _, idx := range f.Interfaces {
		b = binary.BigEndian.AppendUint16(b, idx)
	}
	b = appendMembers(b, f.Fields)
	b = appendMembers(b, f.Methods)
	return appendAttributes(b, f.Attributes), nil
}

// WriteTo writes the class file to w. The file is serialized in full before
// anything is written.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func appendMembers(b []byte, members []Member) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(members)))
	for _, m := range members {
		b = binary.BigEndian.AppendUint16(b, m.Access)
		b = binary.BigEndian.AppendUint16(b, m.Name)
		b = binary.BigEndian.AppendUint16(b, m.Descriptor)
		b = appendAttributes(b, m.Attributes)
	}
	return b
}

func appendAttributes(b []byte, attrs []AttributeInfo) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(attrs)))
	for _, a := range attrs {
		b = binary.BigEndian.AppendUint16(b, a.Name)
		b = binary.BigEndian.AppendUint32(b, uint32(len(a.Data)))
		b = append(b, a.Data...)
	}
	return b
}
