package geoguessr

import (
	"encoding/json"
	"fmt"

	"github.com/Amund211/duelhistory/internal/domain"
)

type DuelDetail struct {
	Teams []DuelTeam `json:"teams"`
}

type DuelTeam struct {
	Players []DuelPlayer `json:"players"`
}

type DuelPlayer struct {
	PlayerID       string          `json:"playerId"`
	ProgressChange *ProgressChange `json:"progressChange"`
}

type ProgressChange struct {
	RankedSystemProgress *RankedSystemProgress `json:"rankedSystemProgress"`
}

type RankedSystemProgress struct {
	GameMode            string `json:"gameMode"`
	RatingAfter         *int   `json:"ratingAfter"`
	GameModeRatingAfter *int   `json:"gameModeRatingAfter"`
}

// Find the player with the given id in any team
func (d DuelDetail) FindPlayer(playerID string) (DuelPlayer, bool) {
	for _, team := range d.Teams {
		for _, player := range team.Players {
			if player.PlayerID == playerID {
				return player, true
			}
		}
	}
	return DuelPlayer{}, false
}

// The ranked progress of the player, if the duel was ranked
func (p DuelPlayer) RankedProgress() (RankedSystemProgress, bool) {
	if p.ProgressChange == nil || p.ProgressChange.RankedSystemProgress == nil {
		return RankedSystemProgress{}, false
	}
	return *p.ProgressChange.RankedSystemProgress, true
}

func parseDuelDetail(data []byte) (DuelDetail, error) {
	var detail DuelDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return DuelDetail{}, fmt.Errorf("%w: failed to parse duel: %w", domain.ErrMalformedResponse, err)
	}
	return detail, nil
}
