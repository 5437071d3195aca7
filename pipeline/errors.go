package pipeline

import "github.com/pkg/errors"

// The pipelines distinguish three failure classes:
//
//   - ErrConfig: capacity/shape mismatches, invalid pool usage, malformed
//     augmentation values. Fatal at construction, never retried.
//   - ErrDecode: a record failed image decode/parse. Surfaced to the
//     consumer as a dataset-integrity defect; there is no retry policy.
//   - ErrContract: the padding invariant was broken (a dummy entry precedes
//     a real one). Failing loudly beats producing mislabeled data.
//
// All are plain sentinels; wrap with errors.WithMessagef for context and
// test with errors.Is.
var (
	ErrConfig   = errors.New("invalid pipeline configuration")
	ErrDecode   = errors.New("record decode failed")
	ErrContract = errors.New("padding contract violated")
)

func configErrorf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrConfig, format, args...)
}

func decodeErrorf(cause error, format string, args ...interface{}) error {
	return errors.WithMessagef(ErrDecode, format+": %v", append(args, cause)...)
}
