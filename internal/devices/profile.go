package devices

import "fmt"

var deviceTypes = []string{
	"iPhone 15 Pro",
	"Samsung Galaxy S24",
	"Google Pixel 8",
	"OnePlus 12",
	"iPhone 14",
	"Samsung Galaxy A54",
	"Xiaomi 13 Pro",
	"Nothing Phone (2)",
	"Sony Xperia 1 V",
	"Motorola Edge 40",
}

var locations = []string{
	"Warehouse A - Bay 1",
	"Warehouse A - Bay 2",
	"Warehouse B - Entry",
	"Production Floor - Line 1",
	"Production Floor - Line 2",
	"Production Floor - Line 3",
	"QC Station 1",
	"QC Station 2",
	"Cold Storage Area",
	"Shipping Dock 1",
	"Shipping Dock 2",
	"Mobile - Warehouse",
	"Office Area - Floor 1",
	"Office Area - Floor 2",
	"Loading Bay A",
	"Loading Bay B",
}

// Profile is display data derived from a device id. The same id always
// yields the same profile.
type Profile struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

// ProfileFor derives the profile from the first two characters and the
// length of id. Missing characters count as zero.
func ProfileFor(id string) Profile {
	seed := len(id)
	for i := 0; i < 2 && i < len(id); i++ {
		seed += int(id[i])
	}
	p := (seed*9301 + 49297) % 233280
	return Profile{
		Name:     fmt.Sprintf("Phone %c%d", rune('A'+p%26), p%99+1),
		Type:     deviceTypes[p%len(deviceTypes)],
		Location: locations[(p*2)%len(locations)],
		Status:   "online",
	}
}
