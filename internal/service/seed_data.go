package service

import "fmt"

// StaticCard is one hardcoded batch member.
type StaticCard struct {
	CardID string
	Owner  string
}

// StaticBatch is a batch shipped with the agent and loadable without the remote service.
type StaticBatch struct {
	BatchName string
	Cards     []StaticCard
}

// DefaultStaticBatches returns the seed table bundled with the agent.
func DefaultStaticBatches() []StaticBatch {
	return []StaticBatch{
		{BatchName: "001", Cards: seedRange("LAG", 1, 10)},
		{BatchName: "002", Cards: seedRange("LAG", 101, 110)},
		{BatchName: "003", Cards: seedRange("ABJ", 1, 5)},
	}
}

func seedRange(prefix string, from, to int) []StaticCard {
	cards := make([]StaticCard, 0, to-from+1)
	for i := from; i <= to; i++ {
		cards = append(cards, StaticCard{CardID: fmt.Sprintf("%s%03d", prefix, i)})
	}
	return cards
}
