package watchlist

// DefaultRoutine is stored for a domain the first time one of its URLs is
// inserted. It finds nothing until a user edits it.
const DefaultRoutine = `// Runs as the body of: async function(page, util) { ... }
//
// Wait for the main container:
//   const div = await page.waitForSelector(".product");
// Verify the page by saving a screenshot:
//   page.screenshot("product");
// Select text or an attribute, with an optional transform:
//   const text = util.selectTextContent(page.query(".price"), t => t.replace(/now/i, ""));
//   const cents = util.selectAttribute(page.query("[data-price]"), "data-price");
// Log what you found:
//   console.log(page.url(), text);
// Extract the price in cents:
//   const price = util.parsePrice(text);

return { price: undefined, discount: undefined };
`
