package catalog

import "nexora/backend/internal/domain"

// ReferenceItems is the storefront catalog. Prices are in paise.
func ReferenceItems() []domain.Item {
	return []domain.Item{
		{ID: 1, Name: "computer keyboard", PriceCents: 69900, OriginalPriceCents: 89900, ImageURL: "https://images.unsplash.com/photo-1618384887929-16ec33fab9ef?q=80&w=800", Rating: 4.8, Brand: "KeyBorg", Color: "Black"},
		{ID: 2, Name: `VR Headset "NEXUS-V"`, PriceCents: 2499900, ImageURL: "https://images.unsplash.com/photo-1593508512255-86ab42a8e620?q=80&w=800", Rating: 4.9, Brand: "NexusVR", Color: "White"},
		{ID: 4, Name: "white t shirt", PriceCents: 49900, OriginalPriceCents: 64900, ImageURL: "https://images.unsplash.com/photo-1521572163474-6864f9cf17ab?q=80&w=800", Rating: 4.7, Brand: "GlitchWear", Color: "White"},
		{ID: 7, Name: "Cyber-Cake (1kg)", PriceCents: 79900, OriginalPriceCents: 99900, ImageURL: "https://images.unsplash.com/photo-1578985545062-69928b1d9587?q=80&w=800", Rating: 4.6, Brand: "Cyber-Core", Color: "Brown"},
		{ID: 10, Name: "Cryp-Key Pendant", PriceCents: 399900, ImageURL: "https://images.unsplash.com/photo-1550751827-4bd374c3f58b?q=80&w=800", Rating: 4.9, Brand: "Cyber-Core", Color: "Silver"},
		{ID: 12, Name: "RetroWave '86 Console", PriceCents: 1599900, OriginalPriceCents: 1799900, ImageURL: "https://images.unsplash.com/photo-1534423861386-85a16f5d13fd?q=80&w=800", Rating: 4.9, Brand: "RetroWave", Color: "Silver"},
		{ID: 17, Name: "nike sneakers", PriceCents: 999900, ImageURL: "https://images.unsplash.com/photo-1605348532760-6753d2c43329?q=80&w=800", Rating: 4.8, Brand: "GlitchWear", Color: "White"},
	}
}
