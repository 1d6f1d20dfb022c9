package tracker

import "math/rand"

// --------------------------------------------------------------------------------------------- //

/*
BuildTiers assembles a BEP 12 tier list from a torrent's single announce
URL and optional announce-list. When announceList is non-empty it defines
the tiers; announce is otherwise treated as the sole tier.

Parameters:
  - announce: The torrent's primary announce URL.
  - announceList: The torrent's announce-list, one sublist per tier.

Returns:
  - [][]string: The tier list, each tier's trackers in random order.
*/
func BuildTiers(announce string, announceList [][]string) [][]string {
	var tiers [][]string
	if len(announceList) > 0 {
		for _, tier := range announceList {
			if len(tier) == 0 {
				continue
			}
			tiers = append(tiers, shuffled(tier))
		}
	} else if announce != "" {
		tiers = [][]string{{announce}}
	}
	return tiers
}

// --------------------------------------------------------------------------------------------- //

func shuffled(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// --------------------------------------------------------------------------------------------- //
