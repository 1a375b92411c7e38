package defcon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimelock_Boundary(t *testing.T) {
	lock := Timelock{Duration: DefaultTimelock}
	ref := time.Unix(2000, 0)

	assert.Equal(t, time.Unix(2000+week, 0), lock.Expiry(ref))
	assert.False(t, lock.Expired(ref, time.Unix(2000+week-1, 0)))
	assert.True(t, lock.Expired(ref, time.Unix(2000+week, 0)))
	assert.True(t, lock.Expired(ref, time.Unix(2000+week+1, 0)))

	assert.Equal(t, time.Second, lock.Remaining(ref, time.Unix(2000+week-1, 0)))
	assert.Zero(t, lock.Remaining(ref, time.Unix(2000+week, 0)))
	assert.Zero(t, lock.Remaining(ref, time.Unix(2000+2*week, 0)))
}

func TestTimelock_Elapsed(t *testing.T) {
	lock := Timelock{Duration: time.Hour}
	ref := time.Unix(100, 0)
	assert.Equal(t, 50*time.Second, lock.Elapsed(ref, time.Unix(150, 0)))
	assert.Zero(t, lock.Elapsed(ref, time.Unix(50, 0)))
}

func TestDefaultTimelockIsSevenDays(t *testing.T) {
	assert.Equal(t, int64(week), int64(DefaultTimelock/time.Second))
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0d 0h 0m"},
		{-time.Minute, "0d 0h 0m"},
		{59 * time.Second, "0d 0h 0m"},
		{DefaultTimelock, "7d 0h 0m"},
		{DefaultTimelock - time.Second, "6d 23h 59m"},
		{26*time.Hour + 5*time.Minute + 30*time.Second, "1d 2h 5m"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatRemaining(tc.in), tc.in.String())
	}
}
