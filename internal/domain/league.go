package domain

// League is a display tier derived purely from total stones.
type League string

const (
	LeaguePebble      League = "Pebble"
	LeagueGravel      League = "Gravel"
	LeagueCobblestone League = "Cobblestone"
	LeagueBoulder     League = "Boulder"
	LeagueQuartz      League = "Quartz"
	LeagueGranite     League = "Granite"
	LeagueObsidian    League = "Obsidian"
	LeagueMarble      League = "Marble"
	LeagueBedrock     League = "Bedrock"
)

// leagueThresholds is ordered from the highest tier down.
var leagueThresholds = []struct {
	min    int64
	league League
}{
	{100_000_000, LeagueBedrock},
	{50_000_000, LeagueMarble},
	{10_000_000, LeagueObsidian},
	{1_000_000, LeagueGranite},
	{500_000, LeagueQuartz},
	{100_000, LeagueBoulder},
	{50_000, LeagueCobblestone},
	{5_000, LeagueGravel},
}

// Leagues returns every tier in ascending order.
func Leagues() []League {
	out := make([]League, 0, len(leagueThresholds)+1)
	out = append(out, LeaguePebble)
	for i := len(leagueThresholds) - 1; i >= 0; i-- {
		out = append(out, leagueThresholds[i].league)
	}
	return out
}

// Classify maps a stones total to its league.
func Classify(stones int64) League {
	for _, t := range leagueThresholds {
		if stones >= t.min {
			return t.league
		}
	}
	return LeaguePebble
}

// ParseLeague validates a league name.
func ParseLeague(s string) (League, bool) {
	for _, l := range Leagues() {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// LeaderboardEntry represents a single entry in a league ranking
type LeaderboardEntry struct {
	Rank      int64  `json:"rank"`
	PlayerID  string `json:"telegramId"`
	Username  string `json:"username,omitempty"`
	Stones    int64  `json:"stones"`
	PhotoURL  string `json:"photo_url,omitempty"`
	IsPremium bool   `json:"isPremium"`
}
