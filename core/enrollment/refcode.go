package enrollment

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/speps/go-hashids/v2"
)

const (
	refCodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	refCodeMinLength = 8
)

var errInvalidRefCode = errors.New("invalid reference code")

// RefCoder makes short, unambiguous reference codes out of (school year start, grade level, sequence).
type RefCoder struct {
	h *hashids.HashID
}

func NewRefCoder(salt string) (*RefCoder, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = refCodeMinLength
	hd.Alphabet = refCodeAlphabet
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, errors.Wrap(err, "creating hashids")
	}
	return &RefCoder{h: h}, nil
}

func (rc *RefCoder) Encode(schoolYearStart, gradeLevel int, seq int64) (string, error) {
	code, err := rc.h.EncodeInt64([]int64{int64(schoolYearStart), int64(gradeLevel), seq})
	if err != nil {
		return "", errors.Wrap(err, "encoding reference code")
	}
	return code, nil
}

// Decode returns the school year start, the grade level and the sequence encoded in code.
func (rc *RefCoder) Decode(code string) (int, int, int64, error) {
	nums, err := rc.h.DecodeInt64WithError(strings.ToUpper(code))
	if err != nil || len(nums) != 3 {
		return 0, 0, 0, errInvalidRefCode
	}
	return int(nums[0]), int(nums[1]), nums[2], nil
}
