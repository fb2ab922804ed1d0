package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigger_Coalesces(t *testing.T) {
	tr := newTrigger()

	tr.fire()
	tr.fire()
	tr.fire() // never blocks

	select {
	case <-tr.wait():
	default:
		t.Fatal("expected a pending wake-up")
	}

	select {
	case <-tr.wait():
		t.Fatal("multiple fires should collapse into one wake-up")
	default:
	}
}

func TestTrigger_Empty(t *testing.T) {
	tr := newTrigger()
	select {
	case <-tr.wait():
		t.Fatal("new trigger should not be pending")
	default:
	}
	assert.NotNil(t, tr.wait())
}
