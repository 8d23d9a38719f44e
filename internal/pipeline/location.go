package pipeline

import "fmt"

// Location is where an executed action stored an artifact. It is known only
// at run time.
type Location struct {
	Bucket string
	Key    string
	URI    string
}

// Field returns the part of the location selected by f.
func (l Location) Field(f Field) (string, error) {
	switch f {
	case "", FieldLocation:
		return l.URI, nil
	case FieldBucket:
		return l.Bucket, nil
	case FieldKey:
		return l.Key, nil
	}
	return "", fmt.Errorf("unknown artifact field %q", f)
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l == Location{}
}

func (l Location) String() string {
	return l.URI
}
