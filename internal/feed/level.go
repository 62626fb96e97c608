package feed

type levelThreshold struct {
	above int64
	label string
}

// levels is ordered from the highest threshold down; the first strict match wins.
var levels = []levelThreshold{
	{above: 100000, label: "Bulltmode"},
	{above: 90000, label: "Re-Up-Era"},
	{above: 75000, label: "OG Time"},
	{above: 60000, label: "GOD TIER"},
	{above: 45000, label: "Talk Reckless"},
	{above: 30000, label: "Flex Season"},
	{above: 20000, label: "Rep Zone"},
	{above: 10000, label: "Clicked Up"},
	{above: 5000, label: "Noise Made"},
}

// BaseLevel is the label for walls at or below the lowest threshold.
const BaseLevel = "E-X"

// LevelFor maps a wall's total signature count to its cosmetic level label.
func LevelFor(total int64) string {
	for _, level := range levels {
		if total > level.above {
			return level.label
		}
	}
	return BaseLevel
}
