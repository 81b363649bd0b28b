package orders

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// CreatedTimeLayout renders as DD/MM/YYYY HH:mm:ss.
const CreatedTimeLayout = "02/01/2006 15:04:05"

var regionZones = map[string]string{
	"VN": "Asia/Ho_Chi_Minh",
	"TH": "Asia/Bangkok",
	"ID": "Asia/Jakarta",
	"MY": "Asia/Kuala_Lumpur",
	"SG": "Asia/Singapore",
	"PH": "Asia/Manila",
	"US": "America/Los_Angeles",
	"GB": "Europe/London",
	"UK": "Europe/London",
	"MX": "America/Mexico_City",
}

// Location returns the timezone for a shop region; unknown regions use VN.
func Location(region string) *time.Location {
	name, ok := regionZones[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		name = regionZones["VN"]
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatCreateTime renders an epoch in the region's timezone. Zero renders empty.
func FormatCreateTime(epoch int64, region string) string {
	if epoch == 0 {
		return ""
	}
	return time.Unix(epoch, 0).In(Location(region)).Format(CreatedTimeLayout)
}

// ParseCreatedTime parses a rendered created time back in loc.
func ParseCreatedTime(s string, loc *time.Location) (time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(CreatedTimeLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
