package gadgets

import (
	"fmt"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
)

// sloadGadget covers SLOAD: pop the key, read the slot, push its value.
type sloadGadget struct {
	key       Word
	value     Word
	committed Word
}

func newSloadGadget() *sloadGadget { return &sloadGadget{} }

func (g *sloadGadget) Name() string { return "sload" }

func (g *sloadGadget) States() []ExecutionState { return []ExecutionState{StateSload} }

func (g *sloadGadget) Configure(cb *ConstraintBuilder) {
	g.key = cb.StackPop("sload/key")
	g.value = cb.AllocWord("sload/value")
	g.committed = cb.AllocWord("sload/committed")

	cb.StorageLookup("sload/slot", cb.seqRw(), false, g.key,
		g.value.Lo(), g.value.Hi(), g.value.Lo(), g.value.Hi(), g.committed)
	cb.StackPushWord("sload/value", g.value)

	cb.OpcodeAtPC("sload/opcode", cb.constUint(uint64(evm.SLOAD)))
	// Warm and cold access costs differ, so the cost is witnessed.
	cb.DynamicGas("sload/gas")
	cb.RequireTransition(StepStateTransition{})
}

func (g *sloadGadget) Assign(w *Witness, view StepView) error {
	key, err := view.StackValue(0)
	if err != nil {
		return err
	}
	slot, err := view.StorageAt(1)
	if err != nil {
		return err
	}
	w.SetWord(g.key, &key)
	w.SetWord(g.value, &slot.Value)
	w.SetWord(g.committed, &slot.Committed)
	return nil
}

// sstoreGadget covers SSTORE. Frames that may still revert pair the
// write with a rollback entry at the frame's reversion counter, so the
// bus stays consistent whichever way the frame ends.
type sstoreGadget struct {
	addrLo, addrHi Cell
	key            Word
	value          Word
	prev           Word
	committed      Word
}

func newSstoreGadget() *sstoreGadget { return &sstoreGadget{} }

func (g *sstoreGadget) Name() string { return "sstore" }

func (g *sstoreGadget) States() []ExecutionState { return []ExecutionState{StateSstore} }

func (g *sstoreGadget) Configure(cb *ConstraintBuilder) {
	g.addrLo = cb.AllocCell()
	g.addrHi = cb.AllocCell()
	cb.requireEqual("sstore/callee_split",
		cb.add(cb.v(g.addrLo), cb.shift128(cb.v(g.addrHi))),
		cb.v(cb.Curr.CalleeAddress))

	cb.CallContextLookup("sstore/tx_id", busmapping.FieldTxID,
		cb.v(cb.Curr.TxID), cb.zero())
	cb.CallContextLookup("sstore/reversion_end", busmapping.FieldRwCounterEndOfReversion,
		cb.v(cb.Curr.RwCounterEndOfReversion), cb.zero())
	cb.CallContextLookup("sstore/is_persistent", busmapping.FieldIsPersistent,
		cb.v(cb.Curr.IsPersistent), cb.zero())
	cb.CallContextLookup("sstore/callee", busmapping.FieldCalleeAddress,
		cb.v(g.addrLo), cb.v(g.addrHi))
	cb.requireBoolean("sstore/is_persistent_bool", cb.v(cb.Curr.IsPersistent))

	g.key = cb.StackPop("sstore/key")
	g.value = cb.StackPop("sstore/value")
	g.prev = cb.AllocWord("sstore/prev")
	g.committed = cb.AllocWord("sstore/committed")

	cb.StorageLookup("sstore/write", cb.seqRw(), true, g.key,
		g.value.Lo(), g.value.Hi(), g.prev.Lo(), g.prev.Hi(), g.committed)

	// The rollback sits at end_of_reversion - reversible_write_counter
	// and swaps value and prev, undoing the write if the frame reverts.
	cb.Condition(cb.not(cb.v(cb.Curr.IsPersistent)), func() {
		counter := cb.sub(cb.v(cb.Curr.RwCounterEndOfReversion),
			cb.v(cb.Curr.ReversibleWriteCounter))
		cb.StorageLookup("sstore/rollback", counter, true, g.key,
			g.prev.Lo(), g.prev.Hi(), g.value.Lo(), g.value.Hi(), g.committed)
	})

	cb.OpcodeAtPC("sstore/opcode", cb.constUint(uint64(evm.SSTORE)))
	cb.DynamicGas("sstore/gas")
	cb.RequireTransition(StepStateTransition{
		ReversibleWriteCounter: Delta(cb.one()),
	})
}

func (g *sstoreGadget) Assign(w *Witness, view StepView) error {
	if view.NumOps() < 7 {
		return fmt.Errorf("sstore step has %d operations, want at least 7", view.NumOps())
	}
	key, err := view.StackValue(4)
	if err != nil {
		return err
	}
	value, err := view.StackValue(5)
	if err != nil {
		return err
	}
	slot, err := view.StorageAt(6)
	if err != nil {
		return err
	}
	w.SetWord(g.key, &key)
	w.SetWord(g.value, &value)
	w.SetWord(g.prev, &slot.ValuePrev)
	w.SetWord(g.committed, &slot.Committed)

	addrLo, addrHi := addressHalves(view.Call.Address)
	w.SetBig(g.addrLo, addrLo)
	w.SetBig(g.addrHi, addrHi)
	return nil
}
