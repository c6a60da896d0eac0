package utils

import "testing"

func TestFormatSize(t *testing.T) {
	tables := []struct {
		size int64
		want string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1 << 20, "1.0 MB"},
		{5 * (1 << 20), "5.0 MB"},
		{1 << 30, "1.0 GB"},
		{3 * (1 << 30), "3.0 GB"},
	}

	for _, table := range tables {
		if got := FormatSize(table.size); got != table.want {
			t.Errorf("FormatSize(%d) = %q, want %q", table.size, got, table.want)
		}
	}
}
