package lifecycle

import "github.com/example/roadside-assist/internal/models"

// merge folds an authoritative server record into the local one. It returns
// false when server is older than local and was discarded.
//
// Payment and rating records never disappear once seen, and fields the
// listing routes leave out are kept from the local copy.
func merge(local, server *models.ServiceRequest) (*models.ServiceRequest, bool) {
	if local == nil || local.ID != server.ID {
		return server.Clone(), true
	}
	if server.Status.Rank() < local.Status.Rank() {
		return local, false
	}
	out := server.Clone()
	if out.Payment == nil && local.Payment != nil && out.Status.Finished() {
		p := *local.Payment
		out.Payment = &p
	}
	if out.Rating == nil && local.Rating != nil && out.Status.Finished() {
		r := *local.Rating
		out.Rating = &r
	}
	if out.FinalPrice == nil && out.Status.Finished() {
		out.FinalPrice = cloneFloat(local.FinalPrice)
	}
	if out.Liters == nil && out.Status.Finished() {
		out.Liters = cloneFloat(local.Liters)
	}
	if out.ServiceType == "" {
		out.ServiceType = local.ServiceType
	}
	if out.Requester == nil && local.Requester != nil {
		p := *local.Requester
		out.Requester = &p
	}
	if out.Location == nil && local.Location != nil {
		c := *local.Location
		out.Location = &c
	}
	if out.ShopID == 0 {
		out.ShopID = local.ShopID
	}
	if out.ServiceID == 0 {
		out.ServiceID = local.ServiceID
	}
	if out.Description == "" {
		out.Description = local.Description
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	return out, true
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
