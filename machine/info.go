package machine

// ParameterInfo describes one global or track parameter.
type ParameterInfo struct {
	Kind        ParamKind
	Name        string
	Description string
	Min         int
	Max         int
	NoValue     int
	Flags       int
	Default     int
}

// Initial returns the value a parameter takes when a machine is initialized:
// the default for state parameters, the no-value otherwise.
func (p ParameterInfo) Initial() int {
	if p.Flags&ParamFlagState != 0 {
		return p.Default
	}
	return p.NoValue
}

// Value answers one parameter info key.
func (p ParameterInfo) Value(key Parameter) Value {
	switch key {
	case ParamType:
		return IntValue(int(p.Kind))
	case ParamName:
		return StringValue(p.Name)
	case ParamDescription:
		return StringValue(p.Description)
	case ParamMinValue:
		return IntValue(p.Min)
	case ParamMaxValue:
		return IntValue(p.Max)
	case ParamNoValue:
		return IntValue(p.NoValue)
	case ParamFlags:
		return IntValue(p.Flags)
	case ParamDefValue:
		return IntValue(p.Default)
	}
	return Value{}
}

// AttributeInfo describes one attribute.
type AttributeInfo struct {
	Name    string
	Min     int
	Max     int
	Default int
}

// Value answers one attribute info key.
func (a AttributeInfo) Value(key Attribute) Value {
	switch key {
	case AttrName:
		return StringValue(a.Name)
	case AttrMinValue:
		return IntValue(a.Min)
	case AttrMaxValue:
		return IntValue(a.Max)
	case AttrDefValue:
		return IntValue(a.Default)
	}
	return Value{}
}

// Info is the static description of a machine type.
type Info struct {
	Type       Type
	Version    int
	Flags      int
	MinTracks  int
	MaxTracks  int
	Globals    []ParameterInfo
	Tracks     []ParameterInfo
	Attributes []AttributeInfo
	Name       string
	ShortName  string
	Author     string
	Commands   string

	// InputChannels overrides the input channel count; zero means one.
	InputChannels int
}

// Property answers one machine-level key. dll is the name the library was
// opened under.
func (i *Info) Property(dll string, key Property) Value {
	switch key {
	case PropType:
		return IntValue(int(i.Type))
	case PropVersion:
		return IntValue(i.Version)
	case PropFlags:
		return IntValue(i.Flags)
	case PropMinTracks:
		return IntValue(i.MinTracks)
	case PropMaxTracks:
		return IntValue(i.MaxTracks)
	case PropNumGlobalParams:
		return IntValue(len(i.Globals))
	case PropNumTrackParams:
		return IntValue(len(i.Tracks))
	case PropNumAttributes:
		return IntValue(len(i.Attributes))
	case PropName:
		return StringValue(i.Name)
	case PropShortName:
		return StringValue(i.ShortName)
	case PropAuthor:
		return StringValue(i.Author)
	case PropCommands:
		return StringValue(i.Commands)
	case PropDLLName:
		return StringValue(dll)
	case PropNumInputChannels:
		if i.InputChannels > 0 {
			return IntValue(i.InputChannels)
		}
		return IntValue(1)
	case PropNumOutputChannels:
		if i.InputChannels == 2 || i.Flags&FlagMonoToStereo != 0 {
			return IntValue(2)
		}
		return IntValue(1)
	}
	return Value{}
}

// GlobalParameter answers a key for the global parameter at index.
func (i *Info) GlobalParameter(index int, key Parameter) Value {
	if index < 0 || index >= len(i.Globals) {
		return Value{}
	}
	return i.Globals[index].Value(key)
}

// TrackParameter answers a key for the track parameter at index.
func (i *Info) TrackParameter(index int, key Parameter) Value {
	if index < 0 || index >= len(i.Tracks) {
		return Value{}
	}
	return i.Tracks[index].Value(key)
}

// Attribute answers a key for the attribute at index.
func (i *Info) Attribute(index int, key Attribute) Value {
	if index < 0 || index >= len(i.Attributes) {
		return Value{}
	}
	return i.Attributes[index].Value(key)
}
