package oddsmath

import (
	"sync"

	"oddsharvest/models"
)

// Classifier maps provider bookmaker ids to their class.
// Unknown bookmakers are treated as soft books.
type Classifier struct {
	mu      sync.RWMutex
	classes map[string]models.BookmakerClass
}

func NewClassifier(classes map[string]models.BookmakerClass) *Classifier {
	c := &Classifier{classes: make(map[string]models.BookmakerClass, len(classes))}
	for id, class := range classes {
		c.classes[id] = class
	}
	return c
}

func (c *Classifier) Class(bookmakerID string) models.BookmakerClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if class, ok := c.classes[bookmakerID]; ok {
		return class
	}
	return models.BookmakerSoft
}

// Set overrides the class of one bookmaker
func (c *Classifier) Set(bookmakerID string, class models.BookmakerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[bookmakerID] = class
}

// Coverage counts the given bookmakers per class
func (c *Classifier) Coverage(bookmakerIDs []string) models.Coverage {
	var cov models.Coverage
	for _, id := range bookmakerIDs {
		switch c.Class(id) {
		case models.BookmakerSharp:
			cov.Sharp++
		case models.BookmakerExchange:
			cov.Exchange++
		case models.BookmakerBroker:
			cov.Broker++
		case models.BookmakerExcluded:
			cov.Excluded++
		default:
			cov.Soft++
		}
	}
	return cov
}
