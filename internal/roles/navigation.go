package roles

// NavItem is one entry in the application navigation tree.
type NavItem struct {
	Label    string    `json:"label" yaml:"label"`
	Href     string    `json:"href" yaml:"href"`
	Visible  bool      `json:"visible" yaml:"visible"`
	Children []NavItem `json:"children,omitempty" yaml:"children,omitempty"`
}

// NavigationItems returns the navigation tree with visibility resolved for role.
// Organizations, Invitations and Profile are visible to any signed-in user.
func NavigationItems(role Role) []NavItem {
	return []NavItem{
		{Label: "Dashboard", Href: "/dashboard", Visible: HasPermission(role, ViewOrganization)},
		{Label: "Organizations", Href: "/organizations", Visible: true},
		{Label: "Documents", Href: "/documents", Visible: HasPermission(role, ViewDocuments)},
		{Label: "Invitations", Href: "/invitations", Visible: true},
		{Label: "Analytics", Href: "/analytics", Visible: HasPermission(role, ViewAnalytics)},
		{
			Label:   "Settings",
			Href:    "/settings",
			Visible: HasPermission(role, ManageSettings),
			Children: []NavItem{
				{Label: "Profile", Href: "/settings/profile", Visible: true},
				{Label: "Organization", Href: "/settings/organization", Visible: HasPermission(role, EditOrganization)},
				{Label: "Billing", Href: "/settings/billing", Visible: HasPermission(role, ManageBilling)},
				{Label: "API Keys", Href: "/settings/api-keys", Visible: HasPermission(role, ManageSettings)},
			},
		},
	}
}

// VisibleItems drops hidden entries, including hidden children.
func VisibleItems(items []NavItem) []NavItem {
	var out []NavItem
	for _, item := range items {
		if !item.Visible {
			continue
		}
		item.Children = VisibleItems(item.Children)
		out = append(out, item)
	}
	return out
}
