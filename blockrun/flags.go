package blockrun

// Traits are the structural predicates of the block a run belongs to.
type Traits struct {
	// Block is the block's base uuid.
	Block string
	// Dynamic marks a dynamic producer.
	Dynamic bool
	// DynamicChild marks a block fanned out by a dynamic upstream.
	DynamicChild bool
	// Nested marks a dynamic child with a dynamic-child upstream.
	Nested bool
	// ReduceOutput marks a dynamic child that collapses its fan-out.
	ReduceOutput bool
	// Replicated marks a replica block.
	Replicated bool
}

// Flags classify a run. They are derived on every access and never stored.
type Flags struct {
	Original            bool
	CloneOfOriginal     bool
	Dynamic             bool
	DynamicChild        bool
	SpawnOfDynamicChild bool
	ReduceOutput        bool
	Replicated          bool
	Controller          bool
}

// Classify derives the flags of the run recorded as runUUID.
func Classify(runUUID string, t Traits, m Metrics) Flags {
	base, suffix := SplitUUID(runUUID)
	f := Flags{
		Dynamic:      t.Dynamic,
		DynamicChild: t.DynamicChild,
		ReduceOutput: t.ReduceOutput,
		Replicated:   t.Replicated,
	}
	if base != t.Block {
		return f
	}

	f.Original = suffix == ""
	f.CloneOfOriginal = suffix == ControllerSuffix || (suffix != "" && m.Controller)
	f.SpawnOfDynamicChild = t.DynamicChild && suffix != "" && !f.CloneOfOriginal
	if t.DynamicChild {
		f.Controller = (f.Original && !t.Nested) || f.CloneOfOriginal
	}
	return f
}

// ControllerUUID returns the uuid of the run that owns child creation for
// a dynamic child block.
func ControllerUUID(t Traits) string {
	if t.Nested {
		return UUIDFor(t.Block, ControllerSuffix)
	}
	return t.Block
}
