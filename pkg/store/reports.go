package store

// Reporting procedures. Sales figures only count orders that reached the customer.
var (
	TopBooksProcedure = Procedure{
		Name:    "report_top_books",
		Params:  []string{"p_limit integer"},
		Returns: "book_id varchar, title varchar, author_name varchar, category_name varchar, buy_count bigint, price numeric",
		Body: `SELECT b.id AS book_id, b.title AS title, a.full_name AS author_name, c.name AS category_name,
  b.buy_count AS buy_count, b.price AS price
FROM books b
JOIN authors a ON a.id = b.author_id
JOIN categories c ON c.id = b.category_id
WHERE b.is_deleted = false
ORDER BY b.buy_count DESC, b.title ASC
LIMIT ?`,
	}

	TopCategoriesProcedure = Procedure{
		Name:    "report_top_categories",
		Params:  []string{"p_limit integer"},
		Returns: "category_id varchar, category_name varchar, units_sold bigint, revenue numeric",
		Body: `SELECT c.id AS category_id, c.name AS category_name,
  CAST(COALESCE(SUM(oi.quantity), 0) AS BIGINT) AS units_sold,
  COALESCE(SUM(oi.quantity * oi.unit_price), 0) AS revenue
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
JOIN books b ON b.id = oi.book_id
JOIN categories c ON c.id = b.category_id
WHERE o.status IN ('Delivered', 'Completed')
GROUP BY c.id, c.name
ORDER BY units_sold DESC, c.name ASC
LIMIT ?`,
	}

	RevenueProcedure = Procedure{
		Name:    "report_revenue",
		Returns: "order_count bigint, items_sold bigint, gross_revenue numeric, shipping_total numeric",
		Body: `SELECT
  (SELECT COUNT(*) FROM orders WHERE status IN ('Delivered', 'Completed')) AS order_count,
  (SELECT CAST(COALESCE(SUM(oi.quantity), 0) AS BIGINT) FROM order_items oi
     JOIN orders o ON o.id = oi.order_id WHERE o.status IN ('Delivered', 'Completed')) AS items_sold,
  (SELECT COALESCE(SUM(oi.quantity * oi.unit_price), 0) FROM order_items oi
     JOIN orders o ON o.id = oi.order_id WHERE o.status IN ('Delivered', 'Completed')) AS gross_revenue,
  (SELECT COALESCE(SUM(shipping_fee), 0) FROM orders WHERE status IN ('Delivered', 'Completed')) AS shipping_total`,
	}
)

// ReportProcedures lists the procedures Migrate installs on Postgres.
var ReportProcedures = []Procedure{TopBooksProcedure, TopCategoriesProcedure, RevenueProcedure}
