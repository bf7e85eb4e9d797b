package asm

// List is an ordered method body under construction. Labels and regions
// are allocated from the list so that their handles stay small and dense.
type List struct {
	insns   []Instruction
	labels  int
	regions int
}

// NewList creates an empty instruction list.
func NewList() *List {
	return &List{}
}

// NewLabel allocates a label that is not yet placed.
func (l *List) NewLabel() Label {
	l.labels++
	return Label(l.labels - 1)
}

// NewRegion allocates an exception region handle.
func (l *List) NewRegion() Region {
	l.regions++
	return Region(l.regions - 1)
}

// Add appends instructions and returns the list for chaining.
func (l *List) Add(insns ...Instruction) *List {
	l.insns = append(l.insns, insns...)
	return l
}

// Mark places label at the current end of the list.
func (l *List) Mark(label Label) *List {
	return l.Add(Mark{Label: label})
}

// Len returns the number of instructions, markers included.
func (l *List) Len() int {
	return len(l.insns)
}

// Labels returns the number of labels allocated.
func (l *List) Labels() int {
	return l.labels
}

// Regions returns the number of regions allocated.
func (l *List) Regions() int {
	return l.regions
}

// Instructions returns the instructions in order. The slice is shared with
// the list and must not be modified.
func (l *List) Instructions() []Instruction {
	return l.insns
}
