package memory_test

import (
	"testing"

	"github.com/aretw0/diffuse/pkg/adapters/memory"
	"github.com/aretw0/diffuse/pkg/ports"
)

func TestSlot_Contract(t *testing.T) {
	ports.RunScheduleSlotContract(t, memory.NewSlot())
}
