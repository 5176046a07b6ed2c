package pkgcontainer

import "slices"

// MergeAccessor combines a container accessor with a package override.
//
// Same type (or an override without a type): fields are merged one by one,
// the override wins wherever it sets a value. Different types: the override
// replaces the accessor entirely. When only one side is present it is used
// as is. Neither input is modified.
func MergeAccessor(base *Accessor, override *AccessorOverride) *Accessor {
	switch {
	case base == nil && override == nil:
		return nil
	case override == nil:
		out := cloneAccessor(*base)
		return &out
	case base == nil:
		out := override.toAccessor()
		return &out
	case override.Type != "" && override.Type != base.Type:
		out := override.toAccessor()
		return &out
	}

	out := cloneAccessor(*base)
	o := override

	setString(&out.Label, o.Label)
	setBool(&out.AllowRead, o.AllowRead)
	setBool(&out.AllowWrite, o.AllowWrite)

	setString(&out.FolderPath, o.FolderPath)
	setString(&out.FilePath, o.FilePath)
	setString(&out.ResourceID, o.ResourceID)
	setString(&out.NetworkID, o.NetworkID)
	setString(&out.UserName, o.UserName)
	setString(&out.Password, o.Password)

	setString(&out.BaseURL, o.BaseURL)
	setString(&out.URL, o.URL)
	setBool(&out.IsImmutable, o.IsImmutable)
	setBool(&out.UseGETInsteadOfHEAD, o.UseGETInsteadOfHEAD)

	setString(&out.QuantelGatewayURL, o.QuantelGatewayURL)
	if o.ISAURLs != nil {
		out.ISAURLs = slices.Clone(o.ISAURLs)
	}
	setString(&out.ZoneID, o.ZoneID)
	if o.ServerID != nil {
		out.ServerID = *o.ServerID
	}
	setString(&out.TransformerURL, o.TransformerURL)
	setString(&out.FileflowURL, o.FileflowURL)
	setString(&out.GUID, o.GUID)
	setString(&out.Title, o.Title)

	return &out
}

func (o *AccessorOverride) toAccessor() Accessor {
	a := Accessor{
		Type:              o.Type,
		Label:             o.Label,
		FolderPath:        o.FolderPath,
		FilePath:          o.FilePath,
		ResourceID:        o.ResourceID,
		NetworkID:         o.NetworkID,
		UserName:          o.UserName,
		Password:          o.Password,
		BaseURL:           o.BaseURL,
		URL:               o.URL,
		QuantelGatewayURL: o.QuantelGatewayURL,
		ISAURLs:           slices.Clone(o.ISAURLs),
		ZoneID:            o.ZoneID,
		TransformerURL:    o.TransformerURL,
		FileflowURL:       o.FileflowURL,
		GUID:              o.GUID,
		Title:             o.Title,
	}
	setBool(&a.AllowRead, o.AllowRead)
	setBool(&a.AllowWrite, o.AllowWrite)
	setBool(&a.IsImmutable, o.IsImmutable)
	setBool(&a.UseGETInsteadOfHEAD, o.UseGETInsteadOfHEAD)
	if o.ServerID != nil {
		a.ServerID = *o.ServerID
	}
	return a
}

func cloneAccessor(a Accessor) Accessor {
	a.ISAURLs = slices.Clone(a.ISAURLs)
	return a
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
