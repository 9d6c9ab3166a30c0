package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Answer is the value a participant submits for one question. The concrete type is one of
// SingleChoice, RankedOrder, PairedAssociation or BinaryCategorization.
type Answer interface {
	Kind() QuestionType
	sealed()
}

// SingleChoice is the selected option index.
type SingleChoice int

// RankedOrder lists option indices from most to least preferred.
type RankedOrder []int

// PairedAssociation is a flat list of option indices; consecutive entries form a pair.
type PairedAssociation []int

// BinaryCategorization maps option index to category 0 (A) or 1 (B). It may be sparse.
type BinaryCategorization map[int]int

func (SingleChoice) Kind() QuestionType         { return SingleChoiceType }
func (RankedOrder) Kind() QuestionType          { return RankedOrderType }
func (PairedAssociation) Kind() QuestionType    { return PairedAssociationType }
func (BinaryCategorization) Kind() QuestionType { return BinaryCategorizationType }

func (SingleChoice) sealed()         {}
func (RankedOrder) sealed()          {}
func (PairedAssociation) sealed()    {}
func (BinaryCategorization) sealed() {}

// Pair is an undirected association between two options, stored with A < B.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// CanonicalPair orders the two indices so the smaller comes first.
func CanonicalPair(x, y int) Pair {
	if x > y {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Pairs returns the canonical pairs of the answer. Callers validate first.
func (p PairedAssociation) Pairs() []Pair {
	out := make([]Pair, 0, len(p)/2)
	for i := 0; i+1 < len(p); i += 2 {
		out = append(out, CanonicalPair(p[i], p[i+1]))
	}
	return out
}

// Validate checks the answer against the question's type and option count.
func (q Question) Validate(answer Answer) error {
	if answer == nil {
		return fmt.Errorf("%w: missing answer", ErrInvalidAnswerShape)
	}
	if answer.Kind() != q.Type {
		return fmt.Errorf("%w: %s answer for %s question", ErrInvalidAnswerShape, answer.Kind(), q.Type)
	}
	n := len(q.Options)
	switch a := answer.(type) {
	case SingleChoice:
		if int(a) < 0 || int(a) >= n {
			return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswerShape, int(a))
		}
	case RankedOrder:
		if len(a) != n {
			return fmt.Errorf("%w: ranking has %d entries, want %d", ErrInvalidAnswerShape, len(a), n)
		}
		seen := make([]bool, n)
		for _, idx := range a {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswerShape, idx)
			}
			if seen[idx] {
				return fmt.Errorf("%w: option %d ranked twice", ErrInvalidAnswerShape, idx)
			}
			seen[idx] = true
		}
	case PairedAssociation:
		if len(a) == 0 || len(a)%2 != 0 {
			return fmt.Errorf("%w: pairing needs an even, non-zero number of entries", ErrInvalidAnswerShape)
		}
		for i := 0; i < len(a); i += 2 {
			if a[i] < 0 || a[i] >= n || a[i+1] < 0 || a[i+1] >= n {
				return fmt.Errorf("%w: pair %d out of range", ErrInvalidAnswerShape, i/2)
			}
			if a[i] == a[i+1] {
				return fmt.Errorf("%w: option %d paired with itself", ErrInvalidAnswerShape, a[i])
			}
		}
	case BinaryCategorization:
		for idx, category := range a {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswerShape, idx)
			}
			if category != 0 && category != 1 {
				return fmt.Errorf("%w: category %d for option %d", ErrInvalidAnswerShape, category, idx)
			}
		}
	default:
		return fmt.Errorf("%w: unsupported answer %T", ErrInvalidAnswerShape, answer)
	}
	return nil
}

type answerEnvelope struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeAnswer produces the {"type":...,"value":...} wire form.
func EncodeAnswer(answer Answer) ([]byte, error) {
	if answer == nil {
		return nil, fmt.Errorf("%w: missing answer", ErrInvalidAnswerShape)
	}
	value, err := json.Marshal(answerValue(answer))
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerEnvelope{Type: answer.Kind(), Value: value})
}

// DecodeAnswer parses the wire form produced by EncodeAnswer.
func DecodeAnswer(data []byte) (Answer, error) {
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
	}
	return decodeValue(env.Type, env.Value)
}

func answerValue(answer Answer) any {
	switch a := answer.(type) {
	case SingleChoice:
		return int(a)
	case RankedOrder:
		return []int(a)
	case PairedAssociation:
		return []int(a)
	case BinaryCategorization:
		// JSON object keys must be strings; sort for stable output.
		keys := make([]int, 0, len(a))
		for k := range a {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		out := make(map[string]int, len(a))
		for _, k := range keys {
			out[strconv.Itoa(k)] = a[k]
		}
		return out
	}
	return nil
}

func decodeValue(kind QuestionType, raw json.RawMessage) (Answer, error) {
	switch kind {
	case SingleChoiceType:
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
		}
		return SingleChoice(v), nil
	case RankedOrderType:
		var v []int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
		}
		return RankedOrder(v), nil
	case PairedAssociationType:
		var v []int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
		}
		return PairedAssociation(v), nil
	case BinaryCategorizationType:
		var v map[string]int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
		}
		out := make(BinaryCategorization, len(v))
		for k, category := range v {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%w: option key %q", ErrInvalidAnswerShape, k)
			}
			out[idx] = category
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown answer type %q", ErrInvalidAnswerShape, kind)
}

// Answers maps question sequence index to the participant's answer.
type Answers map[int]Answer

func (a Answers) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a))
	for idx, answer := range a {
		encoded, err := EncodeAnswer(answer)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", idx, err)
		}
		out[strconv.Itoa(idx)] = encoded
	}
	return json.Marshal(out)
}

// UnmarshalJSON is lenient: entries that cannot be decoded are dropped so a corrupt record
// never prevents the rest of the participant from loading.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*a = Answers{}
		return nil
	}
	out := make(Answers, len(raw))
	for key, value := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		answer, err := DecodeAnswer(value)
		if err != nil {
			continue
		}
		out[idx] = answer
	}
	*a = out
	return nil
}
