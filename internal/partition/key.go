package partition

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	fileExt    = ".csv"
)

// Key identifies one raw partition: a UTC date and the start hour of its block
type Key struct {
	Date      string
	BlockHour int
}

// KeyFor maps a timestamp to its partition. The block start hour is
// floor(hour / blockHours) * blockHours, evaluated in UTC.
func KeyFor(t time.Time, blockHours int) Key {
	if blockHours <= 0 {
		blockHours = 8
	}
	t = t.UTC()
	return Key{
		Date:      t.Format(dateLayout),
		BlockHour: (t.Hour() / blockHours) * blockHours,
	}
}

// FileName returns the partition file name, e.g. 2025-07-18_08.csv
func (k Key) FileName() string {
	return fmt.Sprintf("%s_%02d%s", k.Date, k.BlockHour, fileExt)
}

// Start returns the first instant covered by the partition
func (k Key) Start() (time.Time, error) {
	day, err := time.Parse(dateLayout, k.Date)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(k.BlockHour) * time.Hour), nil
}

// ParseFileName is the inverse of FileName
func ParseFileName(name string) (Key, error) {
	base := strings.TrimSuffix(name, fileExt)
	if base == name {
		return Key{}, fmt.Errorf("not a partition file: %s", name)
	}
	date, hour, ok := strings.Cut(base, "_")
	if !ok {
		return Key{}, fmt.Errorf("not a partition file: %s", name)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Key{}, fmt.Errorf("not a partition file: %s: %w", name, err)
	}
	h, err := strconv.Atoi(hour)
	if err != nil || len(hour) != 2 || h < 0 || h > 23 {
		return Key{}, fmt.Errorf("not a partition file: %s", name)
	}
	return Key{Date: date, BlockHour: h}, nil
}
