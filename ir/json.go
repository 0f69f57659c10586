package ir

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/internal/field"
	"github.com/gostdlib/base/context"
)

// lit is a numeric literal off the wire: a JSON number, or a string
// holding a decimal or 0x-prefixed value.
type lit uint64

func (l *lit) UnmarshalJSON(b []byte) error {
	s := string(b)
	if strings.HasPrefix(s, `"`) {
		var err error
		s, err = strconv.Unquote(s)
		if err != nil {
			return err
		}
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("numeric literal %q: %w", s, err)
	}
	*l = lit(v)
	return nil
}

func litPtr(l *lit) *uint64 {
	if l == nil {
		return nil
	}
	v := uint64(*l)
	return &v
}

// raw is the polymorphic-node buffer type: every declaration and field is
// first captured as raw JSON text so its "kind" tag can be probed before
// picking a concrete Go type to decode into.
type raw = jsontext.Value

type wireFile struct {
	Endianness struct {
		Value string `json:"value"`
	} `json:"endianness"`
	Declarations []raw `json:"declarations"`
}

type wireTag struct {
	ID    string `json:"id"`
	Value *lit   `json:"value,omitempty"`
	Range *struct {
		Lo lit `json:"lo"`
		Hi lit `json:"hi"`
	} `json:"range,omitempty"`
	Tags []wireTag `json:"tags,omitempty"`
}

type wireConstraint struct {
	ID    string  `json:"id"`
	Value *lit    `json:"value,omitempty"`
	TagID *string `json:"tag_id,omitempty"`
}

type wireDecl struct {
	Kind        string           `json:"kind"`
	ID          string           `json:"id"`
	Width       *int             `json:"width,omitempty"`
	ParentID    string           `json:"parent_id,omitempty"`
	Constraints []wireConstraint `json:"constraints,omitempty"`
	Fields      []raw            `json:"fields,omitempty"`
	Tags        []wireTag        `json:"tags,omitempty"`
	Function    string           `json:"function,omitempty"`
	Value       string           `json:"value,omitempty"` // endianness_declaration
}

type wireField struct {
	Kind         string  `json:"kind"`
	ID           string  `json:"id,omitempty"`
	Width        *int    `json:"width,omitempty"`
	TypeID       string  `json:"type_id,omitempty"`
	ElementTypeID *string `json:"element_type_id,omitempty"`
	FieldID      string  `json:"field_id,omitempty"` // target id for size/count/checksum fields
	SizeModifier int     `json:"size_modifier,omitempty"`
	Size         *int    `json:"size,omitempty"`
	PaddedSize   *int    `json:"padded_size,omitempty"`
	Value        *lit    `json:"value,omitempty"`
	EnumID       *string `json:"enum_id,omitempty"`
	TagID        *string `json:"tag_id,omitempty"`
	GroupID      string  `json:"group_id,omitempty"`
	Constraints  []wireConstraint `json:"constraints,omitempty"`
}

// Decode parses an IR JSON document into a File. It does not build
// scopes; call BuildScopes afterward.
func Decode(ctx context.Context, data []byte) (*File, error) {
	var wf wireFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("decoding IR document: %w", err))
	}

	f := &File{}
	switch wf.Endianness.Value {
	case "big_endian":
		f.Endianness = BigEndian
	default:
		f.Endianness = LittleEndian
	}

	for _, rd := range wf.Declarations {
		d, isEndianness, err := decodeDecl(ctx, rd)
		if err != nil {
			return nil, err
		}
		if isEndianness {
			continue
		}
		f.Declarations = append(f.Declarations, d)
	}

	return f, nil
}

func decodeDecl(ctx context.Context, rd raw) (Declaration, bool, error) {
	var wd wireDecl
	if err := json.Unmarshal(rd, &wd); err != nil {
		return nil, false, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("decoding declaration: %w", err))
	}

	switch wd.Kind {
	case field.DeclEnum.String():
		return &EnumDeclaration{DeclID: wd.ID, Width: derefInt(wd.Width), Tags: decodeTags(wd.Tags)}, false, nil
	case field.DeclPacket.String():
		fields, err := decodeFields(ctx, wd.Fields)
		if err != nil {
			return nil, false, err
		}
		return &PacketDeclaration{DeclID: wd.ID, ParentID: wd.ParentID, Constraints: decodeConstraints(wd.Constraints), Fields: fields}, false, nil
	case field.DeclStruct.String():
		fields, err := decodeFields(ctx, wd.Fields)
		if err != nil {
			return nil, false, err
		}
		return &StructDeclaration{DeclID: wd.ID, ParentID: wd.ParentID, Constraints: decodeConstraints(wd.Constraints), Fields: fields}, false, nil
	case field.DeclGroup.String():
		fields, err := decodeFields(ctx, wd.Fields)
		if err != nil {
			return nil, false, err
		}
		return &GroupDeclaration{DeclID: wd.ID, Fields: fields}, false, nil
	case field.DeclCustomField.String():
		return &CustomFieldDeclaration{DeclID: wd.ID, Width: wd.Width}, false, nil
	case field.DeclChecksum.String():
		return &ChecksumDeclaration{DeclID: wd.ID, Width: derefInt(wd.Width), Function: wd.Function}, false, nil
	case field.DeclEndianness.String():
		// Some emitters inline the endianness marker as a declaration
		// rather than a root field. The caller (Decode) already read
		// File.Endianness from the root; this just needs acknowledging,
		// not a Declaration node.
		return nil, true, nil
	}

	return nil, false, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("declaration %q has unrecognized kind %q", wd.ID, wd.Kind))
}

func decodeTags(wts []wireTag) []Tag {
	tags := make([]Tag, 0, len(wts))
	for _, wt := range wts {
		t := Tag{ID: wt.ID, Value: litPtr(wt.Value)}
		if wt.Range != nil {
			lo, hi := uint64(wt.Range.Lo), uint64(wt.Range.Hi)
			t.RangeLo, t.RangeHi = &lo, &hi
		}
		if len(wt.Tags) > 0 {
			t.SubTags = decodeTags(wt.Tags)
		}
		tags = append(tags, t)
	}
	return tags
}

func decodeConstraints(wcs []wireConstraint) []Constraint {
	cs := make([]Constraint, 0, len(wcs))
	for _, wc := range wcs {
		cs = append(cs, Constraint{ID: wc.ID, Value: litPtr(wc.Value), TagID: wc.TagID})
	}
	return cs
}

func decodeFields(ctx context.Context, rfs []raw) ([]Field, error) {
	fields := make([]Field, 0, len(rfs))
	for _, rf := range rfs {
		fl, err := decodeField(ctx, rf)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fl)
	}
	return fields, nil
}

func decodeField(ctx context.Context, rf raw) (Field, error) {
	var wf wireField
	if err := json.Unmarshal(rf, &wf); err != nil {
		return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("decoding field: %w", err))
	}

	switch wf.Kind {
	case field.KindScalar.String():
		return &ScalarField{FieldID: wf.ID, Width: derefInt(wf.Width)}, nil
	case field.KindTypedef.String():
		return &TypedefField{FieldID: wf.ID, TypeID: wf.TypeID}, nil
	case field.KindArray.String():
		return &ArrayField{
			FieldID:       wf.ID,
			ElementWidth:  wf.Width,
			ElementTypeID: wf.ElementTypeID,
			SizeModifier:  wf.SizeModifier,
			Size:          wf.Size,
			PaddedSize:    wf.PaddedSize,
		}, nil
	case field.KindSize.String():
		return &SizeField{FieldID: wf.ID, TargetID: wf.FieldID, Width: derefInt(wf.Width)}, nil
	case field.KindCount.String():
		return &CountField{FieldID: wf.ID, TargetID: wf.FieldID, Width: derefInt(wf.Width)}, nil
	case field.KindPayload.String():
		return &PayloadField{FieldID: wf.ID, SizeModifier: wf.SizeModifier}, nil
	case field.KindBody.String():
		return &BodyField{FieldID: wf.ID, SizeModifier: wf.SizeModifier}, nil
	case field.KindFixed.String():
		return &FixedField{Width: wf.Width, Value: litPtr(wf.Value), EnumID: wf.EnumID, TagID: wf.TagID}, nil
	case field.KindReserved.String():
		return &ReservedField{Width: derefInt(wf.Width)}, nil
	case field.KindPadding.String():
		return &PaddingField{Size: derefInt(wf.Size)}, nil
	case field.KindChecksum.String():
		return &ChecksumField{TargetID: wf.FieldID}, nil
	case field.KindGroup.String():
		return &GroupField{GroupID: wf.GroupID, Constraints: decodeConstraints(wf.Constraints)}, nil
	}

	return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("field has unrecognized kind %q", wf.Kind))
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
