package envelope

// Bytes is a raw payload.
type Bytes []byte

func (b Bytes) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), b...), nil
}

func (b *Bytes) UnmarshalBinary(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
